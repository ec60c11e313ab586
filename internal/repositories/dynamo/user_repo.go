// Package dynamo stores users in DynamoDB.
//
// Two tables are used: users keyed by userID, with session hashes in a
// string set, and identities keyed by "<method>:<value>" pointing at a
// userID. Session changes are single UpdateItem calls using ADD and DELETE
// on the string set, which DynamoDB applies atomically. The user item also
// lists its identity keys, so Delete can clear every index entry, and holds
// API keys in a map keyed by key ID.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/BradenHooton/tessera/internal/config"
	"github.com/BradenHooton/tessera/internal/models"
)

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type userItem struct {
	UserID            string    `dynamodbav:"userID"`
	MethodName        string    `dynamodbav:"methodName"`
	MethodValue       string    `dynamodbav:"methodValue"`
	Name              string    `dynamodbav:"name"`
	Email             string    `dynamodbav:"email,omitempty"`
	Picture           string    `dynamodbav:"picture,omitempty"`
	Username          string    `dynamodbav:"username,omitempty"`
	Bio               string    `dynamodbav:"bio,omitempty"`
	SessionTokens     []string  `dynamodbav:"sessionTokens,stringset,omitempty"`
	PaymentCustomerID string    `dynamodbav:"paymentCustomerID,omitempty"`
	CreatedAt         time.Time `dynamodbav:"createdAt"`
	UpdatedAt         time.Time `dynamodbav:"updatedAt"`

	Identities []string              `dynamodbav:"identities,stringset,omitempty"`
	APIKeys    map[string]apiKeyItem `dynamodbav:"apiKeys"`
}

type identityItem struct {
	IdentityKey string `dynamodbav:"identityKey"`
	UserID      string `dynamodbav:"userID"`
}

type apiKeyItem struct {
	ID        string    `dynamodbav:"id"`
	Name      string    `dynamodbav:"name"`
	KeyHash   string    `dynamodbav:"keyHash"`
	Hint      string    `dynamodbav:"hint"`
	Scopes    []string  `dynamodbav:"scopes,stringset,omitempty"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
}

func (k apiKeyItem) toAPIKey() models.APIKey {
	return models.APIKey{
		ID:        k.ID,
		Name:      k.Name,
		KeyHash:   k.KeyHash,
		Hint:      k.Hint,
		Scopes:    k.Scopes,
		CreatedAt: k.CreatedAt,
	}
}

// identityKeys returns every identity index entry the user owns. Items
// written before identities were tracked only own the primary one.
func (i userItem) identityKeys() []string {
	primary := models.IdentityKey(i.MethodName, i.MethodValue)
	if slices.Contains(i.Identities, primary) {
		return i.Identities
	}
	return append(slices.Clone(i.Identities), primary)
}

func toItem(u *models.User) userItem {
	return userItem{
		UserID:            u.ID,
		MethodName:        u.MethodName,
		MethodValue:       u.MethodValue,
		Name:              u.Name,
		Email:             u.Email,
		Picture:           u.Picture,
		Username:          u.Username,
		Bio:               u.Bio,
		SessionTokens:     u.SessionTokens,
		PaymentCustomerID: u.PaymentCustomerID,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
		Identities:        []string{u.IdentityKey()},
		APIKeys:           map[string]apiKeyItem{},
	}
}

func (i userItem) toUser() *models.User {
	tokens := i.SessionTokens
	if tokens == nil {
		tokens = []string{}
	}
	return &models.User{
		ID:                i.UserID,
		MethodName:        i.MethodName,
		MethodValue:       i.MethodValue,
		Name:              i.Name,
		Email:             i.Email,
		Picture:           i.Picture,
		Username:          i.Username,
		Bio:               i.Bio,
		SessionTokens:     tokens,
		PaymentCustomerID: i.PaymentCustomerID,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// UserRepository implements the user store on DynamoDB.
type UserRepository struct {
	client          API
	usersTable      string
	identitiesTable string
	now             func() time.Time
	logger          *slog.Logger
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewUserRepository(client API, cfg config.DynamoDBConfig, logger *slog.Logger) *UserRepository {
	return &UserRepository{
		client:          client,
		usersTable:      cfg.UsersTable,
		identitiesTable: cfg.IdentitiesTable,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          logger,
	}
}

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"userID": &types.AttributeValueMemberS{Value: id}}
}

func identityKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"identityKey": &types.AttributeValueMemberS{Value: key}}
}

// mapError files SDK errors under model sentinels. A failed condition means
// the item the condition guarded did not exist (or already existed), so the
// caller passes the sentinel that fits the operation.
func mapError(err error, onCondition error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return onCondition
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return onCondition
			}
		}
	}

	return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
}

// canceledAt reports whether a transaction was canceled by a failed
// condition on its index-th item.
func canceledAt(err error, index int) bool {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) || index >= len(txErr.CancellationReasons) {
		return false
	}
	return aws.ToString(txErr.CancellationReasons[index].Code) == "ConditionalCheckFailed"
}

func (r *UserRepository) getItem(ctx context.Context, id string) (*userItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.usersTable),
		Key:            userKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err, models.ErrNotFound)
	}
	if len(out.Item) == 0 {
		return nil, models.ErrNotFound
	}

	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return &item, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	item, err := r.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toUser(), nil
}

func (r *UserRepository) GetByIdentity(ctx context.Context, methodName, methodValue string) (*models.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.identitiesTable),
		Key:       identityKey(models.IdentityKey(methodName, methodValue)),
	})
	if err != nil {
		return nil, mapError(err, models.ErrNotFound)
	}
	if len(out.Item) == 0 {
		return nil, models.ErrNotFound
	}

	var ident identityItem
	if err := attributevalue.UnmarshalMap(out.Item, &ident); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return r.GetByID(ctx, ident.UserID)
}

// Create writes the user and the identity index entry in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	created := *user
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	now := r.now()
	created.CreatedAt, created.UpdatedAt = now, now

	userAV, err := attributevalue.MarshalMap(toItem(&created))
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	identAV, err := attributevalue.MarshalMap(identityItem{IdentityKey: created.IdentityKey(), UserID: created.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.usersTable),
				Item:                userAV,
				ConditionExpression: aws.String("attribute_not_exists(userID)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.identitiesTable),
				Item:                identAV,
				ConditionExpression: aws.String("attribute_not_exists(identityKey)"),
			}},
		},
	})
	if err != nil {
		return nil, mapError(err, models.ErrConflict)
	}

	if created.SessionTokens == nil {
		created.SessionTokens = []string{}
	}
	return &created, nil
}

// Delete removes the user and all of its identity entries together.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	item, err := r.getItem(ctx, id)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{{Delete: &types.Delete{
		TableName:           aws.String(r.usersTable),
		Key:                 userKey(id),
		ConditionExpression: aws.String("attribute_exists(userID)"),
	}}}
	for _, key := range item.identityKeys() {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(r.identitiesTable),
			Key:       identityKey(key),
		}})
	}

	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return mapError(err, models.ErrNotFound)
	}
	return nil
}

const userExists = "attribute_exists(userID)"

func (r *UserRepository) update(ctx context.Context, userID, expr, cond string, names map[string]string, values map[string]types.AttributeValue) error {
	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	values[":now"] = &types.AttributeValueMemberS{Value: r.now().Format(time.RFC3339Nano)}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.usersTable),
		Key:                       userKey(userID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return mapError(err, models.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) AddSessionToken(ctx context.Context, userID, hash string) error {
	return r.update(ctx, userID, "ADD sessionTokens :h SET updatedAt = :now", userExists, nil,
		map[string]types.AttributeValue{":h": &types.AttributeValueMemberSS{Value: []string{hash}}})
}

func (r *UserRepository) RemoveSessionToken(ctx context.Context, userID, hash string) error {
	return r.update(ctx, userID, "DELETE sessionTokens :h SET updatedAt = :now", userExists, nil,
		map[string]types.AttributeValue{":h": &types.AttributeValueMemberSS{Value: []string{hash}}})
}

// SetSessionTokens replaces the set. DynamoDB cannot store an empty set, so
// an empty replacement removes the attribute.
func (r *UserRepository) SetSessionTokens(ctx context.Context, userID string, hashes []string) error {
	if len(hashes) == 0 {
		return r.update(ctx, userID, "REMOVE sessionTokens SET updatedAt = :now", userExists, nil, nil)
	}
	return r.update(ctx, userID, "SET sessionTokens = :h, updatedAt = :now", userExists, nil,
		map[string]types.AttributeValue{":h": &types.AttributeValueMemberSS{Value: hashes}})
}

// LinkIdentity writes the identity index entry and records it on the user in
// one transaction.
func (r *UserRepository) LinkIdentity(ctx context.Context, userID string, ident *models.Identity) error {
	key := ident.Key()
	identAV, err := attributevalue.MarshalMap(identityItem{IdentityKey: key, UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.identitiesTable),
				Item:                identAV,
				ConditionExpression: aws.String("attribute_not_exists(identityKey)"),
			}},
			{Update: &types.Update{
				TableName:           aws.String(r.usersTable),
				Key:                 userKey(userID),
				UpdateExpression:    aws.String("ADD identities :k SET updatedAt = :now"),
				ConditionExpression: aws.String(userExists),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":k":   &types.AttributeValueMemberSS{Value: []string{key}},
					":now": &types.AttributeValueMemberS{Value: r.now().Format(time.RFC3339Nano)},
				},
			}},
		},
	})
	switch {
	case err == nil:
		return nil
	case canceledAt(err, 0):
		return models.ErrConflict
	case canceledAt(err, 1):
		return models.ErrNotFound
	default:
		return mapError(err, models.ErrConflict)
	}
}

// ListAPIKeys returns the user's keys oldest first.
func (r *UserRepository) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	item, err := r.getItem(ctx, userID)
	if err != nil {
		return nil, err
	}

	keys := make([]models.APIKey, 0, len(item.APIKeys))
	for _, k := range item.APIKeys {
		keys = append(keys, k.toAPIKey())
	}
	slices.SortFunc(keys, func(a, b models.APIKey) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return keys, nil
}

// AddAPIKey sets apiKeys.<id>. Items without an apiKeys map get one created
// by a second, guarded write.
func (r *UserRepository) AddAPIKey(ctx context.Context, userID string, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = r.now()
	}
	keyAV, err := attributevalue.Marshal(apiKeyItem{
		ID:        key.ID,
		Name:      key.Name,
		KeyHash:   key.KeyHash,
		Hint:      key.Hint,
		Scopes:    key.Scopes,
		CreatedAt: key.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode api key: %w", err)
	}

	err = r.update(ctx, userID, "SET apiKeys.#id = :k, updatedAt = :now",
		userExists+" AND attribute_exists(apiKeys)",
		map[string]string{"#id": key.ID},
		map[string]types.AttributeValue{":k": keyAV})
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	return r.update(ctx, userID, "SET apiKeys = :m, updatedAt = :now",
		userExists+" AND attribute_not_exists(apiKeys)", nil,
		map[string]types.AttributeValue{":m": &types.AttributeValueMemberM{
			Value: map[string]types.AttributeValue{key.ID: keyAV},
		}})
}

func (r *UserRepository) RemoveAPIKey(ctx context.Context, userID, keyID string) error {
	return r.update(ctx, userID, "REMOVE apiKeys.#id SET updatedAt = :now",
		"attribute_exists(apiKeys.#id)",
		map[string]string{"#id": keyID}, nil)
}

// Ping checks that both tables are reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	for _, table := range []string{r.usersTable, r.identitiesTable} {
		if _, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}); err != nil {
			r.logger.Error("dynamodb health check failed", slog.String("table", table), slog.Any("error", err))
			return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
		}
	}
	return nil
}
