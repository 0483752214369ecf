package types

import "regexp"

// Compiled once at package initialization; topic subscription and user
// lookups run on every inbound frame.
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	topicRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements:
// 1-50 characters, alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks if the role is one of the two allowed roles.
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// IsValidTopic checks if a channel name meets format requirements:
// 1-50 characters, alphanumeric plus underscore/hyphen. Topic names are
// client-defined labels, so format limits are the only constraint.
func IsValidTopic(topic string) bool {
	if len(topic) < 1 || len(topic) > 50 {
		return false
	}
	return topicRegex.MatchString(topic)
}

// IsValidCategory checks if a notification category is one of the four
// fixed categories.
func IsValidCategory(category string) bool {
	switch category {
	case CategoryOrder, CategoryUser, CategoryInventory, CategoryPayment:
		return true
	default:
		return false
	}
}

// Validate ensures a principal is complete enough to register.
func (p *Principal) Validate() error {
	if !IsValidUserID(p.ID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}
