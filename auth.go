package main

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

/* --------- DTOs --------- */

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResp struct {
	User  userDTO `json:"user"`
	Token string  `json:"token"`
}

/* --------- Handlers --------- */

// POST /auth/register
func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerReq
	if err := decodeJSON(r, &in); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid json")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))

	var errs []string
	if in.Name == "" {
		errs = append(errs, "name is required")
	}
	if in.Email == "" {
		errs = append(errs, "email is required")
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		errs = append(errs, "email is not valid")
	}
	if len(in.Password) < 6 {
		errs = append(errs, "password must be at least 6 characters")
	}
	if len(errs) > 0 {
		validationJSON(w, "invalid input", errs)
		return
	}

	// Fast path only; the unique index on email is the authority.
	var count int64
	if err := a.db.Model(&User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
		errorJSON(w, http.StatusInternalServerError, "db error")
		return
	}
	if count > 0 {
		errorJSON(w, http.StatusBadRequest, "email already in use")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "hash error")
		return
	}
	u := User{
		ID:       newID(),
		Name:     in.Name,
		Email:    in.Email,
		Password: string(hash),
		Role:     "member",
	}
	if err := a.db.Create(&u).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			errorJSON(w, http.StatusBadRequest, "email already in use")
			return
		}
		errorJSON(w, http.StatusInternalServerError, "db error")
		return
	}

	tok, err := a.tokens.issue(u.ID)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusCreated, authResp{User: toUserDTO(u), Token: tok})
}

// POST /auth/login
func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginReq
	if err := decodeJSON(r, &in); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid json")
		return
	}
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))

	var u User
	err := a.db.Where("email = ?", in.Email).First(&u).Error
	if err == gorm.ErrRecordNotFound {
		errorJSON(w, http.StatusBadRequest, "invalid email or password")
		return
	} else if err != nil {
		errorJSON(w, http.StatusInternalServerError, "db error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(in.Password)) != nil {
		errorJSON(w, http.StatusBadRequest, "invalid email or password")
		return
	}

	tok, err := a.tokens.issue(u.ID)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, authResp{User: toUserDTO(u), Token: tok})
}

/* --------- Middleware --------- */

type ctxKey int

const userCtxKey ctxKey = 0

// requireAuth verifies the bearer token and attaches the live user to the
// request context. Any failure short-circuits with 401 before the handler
// runs. Routes without this middleware are public.
func (a *api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(h, prefix) || strings.TrimSpace(h[len(prefix):]) == "" {
			errorJSON(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.tokens.verify(strings.TrimSpace(h[len(prefix):]))
		if err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		var u User
		if err := a.db.First(&u, "id = ?", claims.UserID).Error; err != nil {
			errorJSON(w, http.StatusUnauthorized, "user not found")
			return
		}
		u.Password = ""

		ctx := context.WithValue(r.Context(), userCtxKey, &u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) *User {
	u, _ := r.Context().Value(userCtxKey).(*User)
	return u
}
