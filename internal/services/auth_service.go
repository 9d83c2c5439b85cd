package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/vaultgrails/backend/internal/middleware"
	"github.com/vaultgrails/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *TicketLedgerService
	validator *ValidationHelper
}

// SignupRequest represents the account creation payload
// @Description Signup request structure
type SignupRequest struct {
	Email       string `json:"email" validate:"required,email" example:"user@example.com"`
	Username    string `json:"username" validate:"required,min=3,max=30,alphanum" example:"cardcollector"`
	Password    string `json:"password" validate:"required,min=8" example:"password123"`
	FirstName   string `json:"firstName" validate:"required,min=1" example:"John"`
	LastName    string `json:"lastName" validate:"required,min=1" example:"Doe"`
	DateOfBirth string `json:"dateOfBirth" validate:"required" example:"1990-04-21"`
}

// LoginRequest represents the login payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"`
	Password string `json:"password" validate:"required" example:"password123"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	User  UserSummary `json:"user"`
}

// UserSummary is the canonical user shape returned by auth and profile
// endpoints. The balance is derived from the ledger at response time.
type UserSummary struct {
	ID                 int64  `json:"id"`
	Email              string `json:"email"`
	Username           string `json:"username"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	TicketBalance      int64  `json:"ticketBalance"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, ledger *TicketLedgerService) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// Signup handles account creation
// @Summary Create a new account
// @Description Register with email, username, password, name and date of birth (18+)
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup request"
// @Success 201 {object} AuthResponse "Account created"
// @Failure 400 {object} services.ErrorResponse "Invalid input"
// @Failure 409 {object} services.ErrorResponse "Email or username taken"
// @Failure 500 {object} services.ErrorResponse
// @Router /auth/signup [post]
func (s *AuthService) Signup(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Signup attempt from IP: %s", r.RemoteAddr)

	var req SignupRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		SendErrorResponse(w, "Invalid date of birth", http.StatusBadRequest, nil)
		return
	}
	if age(dob, time.Now()) < 18 {
		SendErrorResponse(w, "Must be 18 or older to register", http.StatusBadRequest, nil)
		return
	}

	email := strings.ToLower(req.Email)

	var exists bool
	err = s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 OR LOWER(username) = LOWER($2))
	`, email, req.Username).Scan(&exists)
	if err != nil {
		log.Printf("[AUTH] Duplicate check failed for %s: %v", email, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	if exists {
		SendErrorResponse(w, "Email or username already registered", http.StatusConflict, nil)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", email, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}

	role := models.RoleUser
	if adminEmail := viper.GetString("admin.email"); adminEmail != "" && email == strings.ToLower(adminEmail) {
		role = models.RoleAdmin
	}

	var userID int64
	err = s.db.QueryRow(`
		INSERT INTO users (email, username, password_hash, first_name, last_name, date_of_birth, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, email, req.Username, hashedPassword, req.FirstName, req.LastName, dob, role).Scan(&userID)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", email, err)
		SendErrorResponse(w, "Email or username already registered", http.StatusConflict, nil)
		return
	}

	token, err := middleware.GenerateToken(userID)
	if err != nil {
		log.Printf("[AUTH] Token generation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %d, Email: %s", userID, email)
	SendJSON(w, http.StatusCreated, AuthResponse{
		Token: token,
		User: UserSummary{
			ID:                 userID,
			Email:              email,
			Username:           req.Username,
			FirstName:          req.FirstName,
			LastName:           req.LastName,
			TicketBalance:      0,
			SubscriptionStatus: models.SubscriptionFree,
		},
	})
}

// Login handles user authentication
// @Summary Login
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse "Invalid credentials"
// @Failure 500 {object} services.ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	email := strings.ToLower(req.Email)

	var user models.User
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT id, email, username, first_name, last_name, subscription_status, password_hash
		FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Username, &user.FirstName,
		&user.LastName, &user.SubscriptionStatus, &hashedPassword)
	if err != nil {
		log.Printf("[AUTH] User not found for email: %s", email)
		SendErrorResponse(w, "Invalid email or password", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", email)
		SendErrorResponse(w, "Invalid email or password", http.StatusUnauthorized, nil)
		return
	}

	// Refresh the role claim in case the configured admin address changed.
	role := models.RoleUser
	if adminEmail := viper.GetString("admin.email"); adminEmail != "" && email == strings.ToLower(adminEmail) {
		role = models.RoleAdmin
	}
	if _, err := s.db.Exec(`
		UPDATE users SET last_login = NOW(), role = $1 WHERE id = $2
	`, role, user.ID); err != nil {
		log.Printf("[AUTH] Failed to update last login for user %d: %v", user.ID, err)
	}

	balance, err := s.ledger.Balance(user.ID)
	if err != nil {
		log.Printf("[AUTH] Balance lookup failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Login failed", http.StatusInternalServerError, nil)
		return
	}

	token, err := middleware.GenerateToken(user.ID)
	if err != nil {
		log.Printf("[AUTH] Token generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	SendJSON(w, http.StatusOK, AuthResponse{
		Token: token,
		User: UserSummary{
			ID:                 user.ID,
			Email:              user.Email,
			Username:           user.Username,
			FirstName:          user.FirstName,
			LastName:           user.LastName,
			TicketBalance:      balance,
			SubscriptionStatus: user.SubscriptionStatus,
		},
	})
}

// Logout revokes the presented token
// @Summary Logout
// @Description Blacklist the presented bearer token until its expiry
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && strings.HasPrefix(token, "Bearer ") {
		token = token[7:]

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetProfile returns the caller's profile with derived counters
// @Summary Get profile
// @Description Get the authenticated user's profile, ticket balance and entry count
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{user=UserSummary,entryCount=int64}
// @Failure 401 {object} services.ErrorResponse
// @Router /user/profile [get]
func (s *AuthService) GetProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var entryCount int64
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM raffle_entries WHERE user_id = $1
	`, identity.ID).Scan(&entryCount); err != nil {
		log.Printf("[AUTH] Entry count failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get profile", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"user": UserSummary{
			ID:                 identity.ID,
			Email:              identity.Email,
			Username:           identity.Username,
			FirstName:          identity.FirstName,
			LastName:           identity.LastName,
			TicketBalance:      identity.TicketBalance,
			SubscriptionStatus: identity.SubscriptionStatus,
		},
		"entryCount": entryCount,
	})
}

// UpdateProfile updates mutable profile fields
// @Summary Update profile
// @Description Update first and/or last name
// @Tags user
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{firstName=string,lastName=string} true "Profile updates"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse "No updates provided"
// @Router /user/profile [put]
func (s *AuthService) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		FirstName string `json:"firstName" validate:"omitempty,min=1,max=100"`
		LastName  string `json:"lastName" validate:"omitempty,min=1,max=100"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.FirstName == "" && req.LastName == "" {
		SendErrorResponse(w, "No updates provided", http.StatusBadRequest, nil)
		return
	}

	first, last := req.FirstName, req.LastName
	if first == "" {
		first = identity.FirstName
	}
	if last == "" {
		last = identity.LastName
	}

	if _, err := s.db.Exec(`
		UPDATE users SET first_name = $1, last_name = $2 WHERE id = $3
	`, first, last, identity.ID); err != nil {
		log.Printf("[AUTH] Profile update failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to update profile", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Profile updated"})
}

// age compares calendar month and day rather than day-of-year, which
// shifts across leap years.
func age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func hashPassword(password string) (string, error) {
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)

	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
