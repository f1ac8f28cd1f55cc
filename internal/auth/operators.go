package auth

import (
	"crypto/subtle"
	"errors"

	"callscript/internal/config"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operators is the static set of API keys allowed to log in.
type Operators struct {
	byUser map[string]config.Operator
}

func NewOperators(list []config.Operator) *Operators {
	o := &Operators{byUser: make(map[string]config.Operator, len(list))}
	for _, op := range list {
		o.byUser[op.User] = op
	}
	return o
}

// Authenticate returns the operator's role when key matches.
func (o *Operators) Authenticate(user, key string) (string, error) {
	op, ok := o.byUser[user]
	if !ok || key == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(op.Key), []byte(key)) != 1 {
		return "", ErrInvalidCredentials
	}
	return op.Role, nil
}

// RoleOf is used on refresh; an operator removed from config cannot refresh.
func (o *Operators) RoleOf(user string) (string, bool) {
	op, ok := o.byUser[user]
	return op.Role, ok
}
