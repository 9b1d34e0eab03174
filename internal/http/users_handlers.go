package httpapi

import (
	"net/http"
	"time"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/users"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=100"`
}

type verifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// userView is the public shape of an account.
type userView struct {
	Email           string                  `json:"email"`
	Name            string                  `json:"name"`
	College         string                  `json:"college"`
	University      models.UniversityRecord `json:"university_info"`
	Verified        bool                    `json:"verified"`
	DriverRating    models.Average          `json:"driver_rating"`
	PassengerRating models.Average          `json:"passenger_rating"`
	CreatedAt       time.Time               `json:"created_at"`
}

func viewUser(u *models.User) userView {
	return userView{
		Email:           u.Email,
		Name:            u.Name,
		College:         u.College,
		University:      u.University,
		Verified:        u.Verified,
		DriverRating:    u.DriverRating,
		PassengerRating: u.PassengerRating,
		CreatedAt:       u.CreatedAt,
	}
}

type sessionResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.Signup(r.Context(), users.SignupRequest{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Verification code sent. Check your email.",
		"user":    viewUser(u),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, u, err := s.users.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: tok, User: viewUser(u)})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Verification code sent. Check your email."})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "If an account exists for that address, a reset code is on its way."})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated. You can log in now."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, u, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: tok, User: viewUser(u)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewUser(currentUser(r)))
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Delete(r.Context(), currentUser(r).Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommunityOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.users.CommunityOptions(r.Context(), currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"communities": opts})
}

func (s *Server) handleRefreshUniversity(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.RefreshUniversity(r.Context(), currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}
