// Package models defines the core data structures for users, sessions
// and shopping lists.
package models

import "time"

const (
	// UsersCollection is the only document collection: one document per user.
	UsersCollection = "users"
	// ShoppingListField is the single field stored in a user document.
	ShoppingListField = "shoppingList"
)

// User represents an application user.
type User struct {
	// ID is the stable user identifier (UUID).
	ID string
	// Email is the address the user signs in with.
	Email string
	// PasswordHash is the bcrypt hash of the password. Empty for federated users.
	PasswordHash []byte
	// Provider names the identity provider ("password" or a federated issuer).
	Provider string
	// Subject is the provider-scoped identifier for federated users.
	Subject string
}

// ProviderPassword marks users that sign in with email and password.
const ProviderPassword = "password"

// Session is the result of a successful sign-in.
type Session struct {
	// Token is the bearer token presented on every authenticated request.
	Token string `json:"token"`
	// UserID identifies the signed-in user.
	UserID string `json:"user_id"`
	// Email is the address of the signed-in user.
	Email string `json:"email"`
	// ExpiresAt is when Token stops being accepted.
	ExpiresAt time.Time `json:"expires_at"`
}

// ShoppingList is an ordered list of item texts. Duplicates are allowed.
type ShoppingList []string

// Clone returns an independent copy of l. A nil list clones to an empty one.
func (l ShoppingList) Clone() ShoppingList {
	out := make(ShoppingList, len(l))
	copy(out, l)
	return out
}

// Fields returns the document fields that persist l.
func (l ShoppingList) Fields() map[string]any {
	items := make([]any, len(l))
	for i, s := range l {
		items[i] = s
	}
	return map[string]any{ShoppingListField: items}
}

// ShoppingListFromFields extracts the shopping list from document fields.
// Missing or malformed values yield an empty list; non-string entries are skipped.
func ShoppingListFromFields(fields map[string]any) ShoppingList {
	switch v := fields[ShoppingListField].(type) {
	case []string:
		return ShoppingList(v).Clone()
	case ShoppingList:
		return v.Clone()
	case []any:
		out := make(ShoppingList, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return ShoppingList{}
	}
}
