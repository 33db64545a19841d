package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

type FamilyEndpoints struct {
	repo *repository.GORMRepository
}

type CreateFamilyMemberRequest struct {
	Name         string `json:"name" validate:"required"`
	Relationship string `json:"relationship" validate:"required"`
	BirthDate    string `json:"birth_date"`
	Bio          string `json:"bio"`
	PhotoURL     string `json:"photo_url"`
}

type GetFamilyMembersResponse struct {
	FamilyMembers []models.FamilyMember `json:"family_members"`
	Count         int                   `json:"count"`
}

func NewFamilyEndpoints(repo *repository.GORMRepository) *FamilyEndpoints {
	return &FamilyEndpoints{
		repo: repo,
	}
}

func (e *FamilyEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/family-members", func(r chi.Router) {
		r.Post("/", e.CreateFamilyMemberHandler)
		r.Get("/", e.GetFamilyMembersHandler)
		r.Get("/{id}", e.GetFamilyMemberHandler)
		r.Put("/{id}", e.UpdateFamilyMemberHandler)
		r.Delete("/{id}", e.DeleteFamilyMemberHandler)
		r.Get("/{id}/stories", e.GetMemberStoriesHandler)
	})
}

func parseBirthDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	return &t
}

func (e *FamilyEndpoints) CreateFamilyMemberHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreateFamilyMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Relationship == "" {
		http.Error(w, "Name and relationship are required", http.StatusBadRequest)
		return
	}

	member := models.FamilyMember{
		UserID:       user.ID,
		Name:         req.Name,
		Relationship: req.Relationship,
		BirthDate:    parseBirthDate(req.BirthDate),
		Bio:          req.Bio,
		PhotoURL:     req.PhotoURL,
	}

	if err := e.repo.CreateFamilyMember(r.Context(), &member); err != nil {
		slog.Error("Failed to create family member", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to create family member", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"family_member": member,
		"message":       "Family member created successfully",
	})

	slog.Info("Family member created", "family_member_id", member.ID, "user_id", user.ID, "name", member.Name)
}

func (e *FamilyEndpoints) GetFamilyMembersHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	members, err := e.repo.GetFamilyMembers(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get family members", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to get family members", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetFamilyMembersResponse{
		FamilyMembers: members,
		Count:         len(members),
	})
}

func (e *FamilyEndpoints) GetFamilyMemberHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	memberID := chi.URLParam(r, "id")
	if memberID == "" {
		http.Error(w, "Family member ID is required", http.StatusBadRequest)
		return
	}

	member, err := e.repo.GetFamilyMemberByID(r.Context(), memberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"family_member": member,
	})
}

func (e *FamilyEndpoints) UpdateFamilyMemberHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	memberID := chi.URLParam(r, "id")
	if memberID == "" {
		http.Error(w, "Family member ID is required", http.StatusBadRequest)
		return
	}

	member, err := e.repo.GetFamilyMemberByID(r.Context(), memberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	var req CreateFamilyMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	member.Name = req.Name
	member.Relationship = req.Relationship
	member.BirthDate = parseBirthDate(req.BirthDate)
	member.Bio = req.Bio
	member.PhotoURL = req.PhotoURL

	if err := e.repo.UpdateFamilyMember(r.Context(), member); err != nil {
		slog.Error("Failed to update family member", "error", err, "family_member_id", memberID, "user_id", user.ID)
		http.Error(w, "Failed to update family member", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"family_member": member,
		"message":       "Family member updated successfully",
	})

	slog.Info("Family member updated", "family_member_id", memberID, "user_id", user.ID)
}

func (e *FamilyEndpoints) DeleteFamilyMemberHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	memberID := chi.URLParam(r, "id")
	if memberID == "" {
		http.Error(w, "Family member ID is required", http.StatusBadRequest)
		return
	}

	member, err := e.repo.GetFamilyMemberByID(r.Context(), memberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	if err := e.repo.DeleteFamilyMember(r.Context(), memberID); err != nil {
		slog.Error("Failed to delete family member", "error", err, "family_member_id", memberID, "user_id", user.ID)
		http.Error(w, "Failed to delete family member", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Family member deleted successfully",
	})

	slog.Info("Family member deleted", "family_member_id", memberID, "user_id", user.ID)
}

func (e *FamilyEndpoints) GetMemberStoriesHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	memberID := chi.URLParam(r, "id")
	member, err := e.repo.GetFamilyMemberByID(r.Context(), memberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	stories, err := e.repo.GetStories(r.Context(), user.ID, memberID)
	if err != nil {
		slog.Error("Failed to get stories", "error", err, "family_member_id", memberID)
		http.Error(w, "Failed to get stories", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stories": stories,
		"count":   len(stories),
	})
}
