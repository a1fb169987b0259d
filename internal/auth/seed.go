package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// AdminOwner is the owner name of the bootstrap token.
const AdminOwner = "admin"

// SeedAdminToken mints an admin token on first boot when no tokens exist.
// The raw token is logged once; it cannot be recovered afterwards.
// Returns the raw token (empty string if seeding was skipped).
func SeedAdminToken(ctx context.Context, repo TokenRepository, logger *slog.Logger) (string, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking token count: %w", err)
	}

	if count > 0 {
		logger.Info("tokens exist, skipping admin token seed")
		return "", nil
	}

	token, err := repo.Create(ctx, AdminOwner)
	if err != nil {
		return "", fmt.Errorf("creating admin token: %w", err)
	}

	logger.Warn("admin token created",
		"owner", AdminOwner,
		"token", token.Raw,
		"action_required", "store this token now, it is not shown again",
	)

	return token.Raw, nil
}
