package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"go-tours/models"
	"go-tours/services"
	"go-tours/utils/errors"
)

const maxPhotoBytes = 5 << 20

type UserHandler struct {
	userService *services.UserService
	authService *services.AuthService
	*Factory[models.User, *models.User]
}

func NewUserHandler(userService *services.UserService, authService *services.AuthService) *UserHandler {
	return &UserHandler{
		userService: userService,
		authService: authService,
		Factory: &Factory[models.User, *models.User]{
			Repo:   userService,
			Schema: models.UserSchema,
		},
	}
}

// CreateUser lets admins add users with any role. The new user gets no session.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) error {
	var input models.SignupInput
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	session, err := h.authService.Signup(r.Context(), input)
	if err != nil {
		return err
	}
	return success(w, http.StatusCreated, session.User)
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	doc, err := h.userService.Me(r.Context(), p)
	if err != nil {
		return err
	}
	return success(w, http.StatusOK, doc)
}

// UpdateMe accepts JSON, or multipart form data with an optional "photo" file.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	patch, photo, err := readProfileUpdate(r)
	if err != nil {
		return err
	}
	doc, err := h.userService.UpdateMe(r.Context(), p, patch, photo)
	if err != nil {
		return err
	}
	return success(w, http.StatusOK, doc)
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	if err := h.userService.Deactivate(r.Context(), p); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func readProfileUpdate(r *http.Request) (map[string]json.RawMessage, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		patch := map[string]json.RawMessage{}
		if err := decodeJSON(r, &patch); err != nil {
			return nil, nil, err
		}
		return patch, nil, nil
	}

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		return nil, nil, errors.Translate(err)
	}
	patch := map[string]json.RawMessage{}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		raw, err := json.Marshal(values[len(values)-1])
		if err != nil {
			return nil, nil, err
		}
		patch[key] = raw
	}

	file, _, err := r.FormFile("photo")
	if err == http.ErrMissingFile {
		return patch, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Translate(err)
	}
	defer file.Close()
	photo, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		return nil, nil, err
	}
	if len(photo) > maxPhotoBytes {
		return nil, nil, errors.New("Photo must be at most 5MB", http.StatusRequestEntityTooLarge)
	}
	return patch, photo, nil
}
