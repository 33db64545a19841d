package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo *repository.GORMRepository
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

// SeedDatabase seeds the database with a demo account and two family members
// to record against (idempotent).
func (s *DatabaseSeeder) SeedDatabase() error {
	ctx := context.Background()

	// Hash default password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	users := []models.User{
		{
			Email:    "demo@example.com",
			Password: string(hashedPassword),
			FullName: "Demo User",
			Role:     "user",
		},
	}

	for _, user := range users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}

	demoUser, err := s.repo.GetUserByEmail(ctx, "demo@example.com")
	if err != nil {
		return fmt.Errorf("failed to get demo user: %w", err)
	}
	if demoUser == nil {
		return fmt.Errorf("demo user not found")
	}

	grandmaBirth := time.Date(1942, time.June, 14, 0, 0, 0, 0, time.UTC)
	grandpaBirth := time.Date(1938, time.November, 2, 0, 0, 0, 0, time.UTC)

	members := []models.FamilyMember{
		{
			UserID:       demoUser.ID,
			Name:         "Grandma Rose",
			Relationship: "grandparent",
			BirthDate:    &grandmaBirth,
			Bio:          "Grew up on a farm in Iowa, raised five children, and never missed a Sunday dinner.",
		},
		{
			UserID:       demoUser.ID,
			Name:         "Grandpa Walt",
			Relationship: "grandparent",
			BirthDate:    &grandpaBirth,
			Bio:          "Navy machinist turned high school shop teacher with a story for every tool in the garage.",
		},
	}

	for _, member := range members {
		if err := s.seedFamilyMember(ctx, member); err != nil {
			slog.Error("Failed to seed family member", "name", member.Name, "error", err)
		}
	}

	slog.Info("Database seeding completed")
	return nil
}

// seedUser seeds a single user (idempotent)
func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}

	if existingUser != nil {
		slog.Info("User already exists, skipping", "email", user.Email)
		return nil
	}

	if err := s.repo.CreateUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}

	slog.Info("Created user", "email", user.Email)
	return nil
}

// seedFamilyMember seeds a single family member by name (idempotent)
func (s *DatabaseSeeder) seedFamilyMember(ctx context.Context, member models.FamilyMember) error {
	existing, err := s.repo.GetFamilyMembers(ctx, member.UserID)
	if err != nil {
		return fmt.Errorf("error checking family members: %w", err)
	}

	for _, m := range existing {
		if m.Name == member.Name {
			slog.Info("Family member already exists, skipping", "name", member.Name)
			return nil
		}
	}

	if err := s.repo.CreateFamilyMember(ctx, &member); err != nil {
		return fmt.Errorf("failed to create family member %s: %w", member.Name, err)
	}

	slog.Info("Created family member", "name", member.Name)
	return nil
}
