package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"go-tours/models"
	"go-tours/store"
	"go-tours/utils/auth"
	"go-tours/utils/errors"
)

const userCacheTTL = 15 * time.Minute

var (
	ErrPasswordRoute = errors.BadRequest("This route is not for password updates. Please use /updatePassword.")
	// updateMe may only touch these fields.
	selfEditable = []string{"name", "email"}
)

// ActiveScope hides deactivated users from every user read.
var ActiveScope = bson.M{"active": bson.M{"$ne": false}}

type UserService struct {
	*Repository[models.User, *models.User]
	redisClient *redis.Client
	photos      PhotoStore
}

// NewUserService wires the users collection. redisClient and photos may be nil.
func NewUserService(users store.Collection, redisClient *redis.Client, photos PhotoStore) *UserService {
	s := &UserService{redisClient: redisClient, photos: photos}
	s.Repository = &Repository[models.User, *models.User]{
		Name:       store.UsersCollection,
		Coll:       users,
		Schema:     models.UserSchema,
		Hidden:     models.UserHidden,
		Scope:      ActiveScope,
		Prepare:    prepareUser,
		AfterWrite: s.afterWrite,
		CheckPatch: rejectPasswordFields,
	}
	return s
}

func prepareUser(_ context.Context, u *models.User, _ bool) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	return nil
}

func rejectPasswordFields(patch map[string]json.RawMessage) error {
	for _, k := range []string{"password", "passwordConfirm"} {
		if _, ok := patch[k]; ok {
			return ErrPasswordRoute
		}
	}
	return nil
}

func (s *UserService) afterWrite(ctx context.Context, before, after *models.User) error {
	for _, u := range []*models.User{before, after} {
		if u != nil {
			s.forget(ctx, u.ID.Hex())
		}
	}
	return nil
}

// GetUser retrieves an active user from Redis or MongoDB
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	key := "user:" + userID

	// Check Redis first
	if s.redisClient != nil {
		if raw, err := s.redisClient.Get(ctx, key).Bytes(); err == nil {
			var user models.User
			if err := bson.Unmarshal(raw, &user); err != nil {
				slog.Warn("Failed to decode cached user", "user", userID, "error", err)
			} else {
				return &user, nil
			}
		}
	}

	oid, err := models.ParseID("id", userID)
	if err != nil {
		return nil, err
	}
	user, err := s.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}

	// Cache in Redis
	if s.redisClient != nil {
		raw, err := bson.Marshal(user)
		if err != nil {
			return user, nil
		}
		if err := s.redisClient.Set(ctx, key, raw, userCacheTTL).Err(); err != nil {
			slog.Warn("Failed to cache user", "user", userID, "error", err)
		}
	}
	return user, nil
}

func (s *UserService) forget(ctx context.Context, userID string) {
	if s.redisClient == nil {
		return
	}
	if err := s.redisClient.Del(ctx, "user:"+userID).Err(); err != nil {
		slog.Warn("Failed to evict cached user", "user", userID, "error", err)
	}
}

// Me returns the caller's profile with a temporary link to the photo.
func (s *UserService) Me(ctx context.Context, p auth.Principal) (bson.M, error) {
	doc, err := s.Get(ctx, p.ID.Hex(), false)
	if err != nil {
		return nil, err
	}
	if key, ok := doc["photo"].(string); ok && key != "" && s.photos != nil {
		url, err := s.photos.URL(ctx, key)
		if err != nil {
			slog.Warn("Failed to presign photo", "user", p.ID.Hex(), "error", err)
		} else {
			doc["photoUrl"] = url
		}
	}
	return doc, nil
}

// UpdateMe changes the caller's own name, email and photo. Any other field in
// patch is dropped; password fields are refused.
func (s *UserService) UpdateMe(ctx context.Context, p auth.Principal, patch map[string]json.RawMessage, photo []byte) (bson.M, error) {
	if err := rejectPasswordFields(patch); err != nil {
		return nil, err
	}
	filtered := FilterFields(patch, selfEditable...)

	user, err := s.FindOne(ctx, bson.M{"_id": p.ID})
	if err != nil {
		return nil, err
	}
	stored := *user.Meta()
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, errors.Translate(err)
	}

	oldPhoto := user.Photo
	if photo != nil {
		if s.photos == nil {
			return nil, errors.New("Photo uploads are not configured", http.StatusServiceUnavailable)
		}
		resized, err := ResizePhoto(bytes.NewReader(photo))
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("user-%s-%d.jpeg", p.ID.Hex(), time.Now().UnixMilli())
		if err := s.photos.Put(ctx, key, resized); err != nil {
			return nil, errors.Wrap(err, "There was an error uploading the photo. Try again later.", http.StatusInternalServerError)
		}
		user.Photo = key
	}

	doc, err := s.replace(ctx, nil, user, stored)
	if err != nil {
		if photo != nil {
			if err := s.photos.Delete(ctx, user.Photo); err != nil {
				slog.Warn("Failed to delete orphaned photo", "key", user.Photo, "error", err)
			}
		}
		return nil, err
	}
	if photo != nil && oldPhoto != "" && oldPhoto != user.Photo {
		if err := s.photos.Delete(ctx, oldPhoto); err != nil {
			slog.Warn("Failed to delete old photo", "key", oldPhoto, "error", err)
		}
	}
	return doc, nil
}

// Deactivate soft deletes the caller. Deactivated users can no longer log in.
func (s *UserService) Deactivate(ctx context.Context, p auth.Principal) error {
	res, err := s.Coll.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{
		"$set": bson.M{"active": false, "updatedAt": time.Now()},
		"$inc": bson.M{"__v": 1},
	})
	if err != nil {
		return errors.Translate(err)
	}
	if res.MatchedCount == 0 {
		return errors.ErrNoDocument
	}
	s.forget(ctx, p.ID.Hex())
	slog.Info("User deactivated", "user", p.ID.Hex())
	return nil
}

// FilterFields keeps only the allowed keys of body.
func FilterFields(body map[string]json.RawMessage, allowed ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(allowed))
	for _, k := range allowed {
		if v, ok := body[k]; ok {
			out[k] = v
		}
	}
	return out
}
