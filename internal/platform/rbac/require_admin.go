// Package rbac provides role checks over the identity the auth interceptor
// placed in context.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"account-platform/backend/internal/server/interceptors"
)

// RoleAdmin is the role required for administrative operations
// (terminating other accounts' sessions, disabling accounts).
const RoleAdmin = "admin"

// RequireAccount ensures the caller is authenticated. Returns the caller's
// account id, or an Unauthenticated gRPC error.
func RequireAccount(ctx context.Context) (string, error) {
	accountID, ok := interceptors.GetAccountID(ctx)
	if !ok || accountID == "" {
		return "", status.Error(codes.Unauthenticated, "account context required")
	}
	return accountID, nil
}

// RequireAdmin ensures the caller is authenticated and carries the admin role.
// Returns the caller's account id, or an Unauthenticated/PermissionDenied gRPC error.
func RequireAdmin(ctx context.Context) (string, error) {
	accountID, err := RequireAccount(ctx)
	if err != nil {
		return "", err
	}
	roles, _ := interceptors.GetRoles(ctx)
	for _, r := range roles {
		if r == RoleAdmin {
			return accountID, nil
		}
	}
	return "", status.Error(codes.PermissionDenied, "admin role required")
}
