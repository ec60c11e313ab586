package models

// Login method names.
const (
	MethodEmail  = "email"
	MethodGoogle = "google"
	MethodGitHub = "github"
)

// Identity is what a provider asserts about the person completing a login.
type Identity struct {
	MethodName  string
	MethodValue string
	Name        string
	Email       string
	Picture     string
}

// IdentityKey joins a method name and the provider's stable identifier.
func IdentityKey(methodName, methodValue string) string {
	return methodName + ":" + methodValue
}

// Key returns the identity's lookup key.
func (i *Identity) Key() string {
	return IdentityKey(i.MethodName, i.MethodValue)
}

// NewUser builds an unsaved user from a resolved identity.
func (i *Identity) NewUser() *User {
	return &User{
		MethodName:  i.MethodName,
		MethodValue: i.MethodValue,
		Name:        i.Name,
		Email:       i.Email,
		Picture:     i.Picture,
	}
}
