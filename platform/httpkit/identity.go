package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Actor kinds recorded on stage transitions and activity entries.
const (
	ActorUser    = "user"
	ActorService = "service"
)

// Identity is the caller resolved by the auth middleware.
type Identity interface {
	UserID() uuid.UUID
	// Kind is ActorUser for bearer-token callers and ActorService for the
	// shared-secret scheduler.
	Kind() string
	IsAuthenticated() bool
}

type identity struct {
	userID uuid.UUID
	kind   string
}

func (i identity) UserID() uuid.UUID     { return i.userID }
func (i identity) Kind() string          { return i.kind }
func (i identity) IsAuthenticated() bool { return i.kind != "" }

// GetIdentity reads the caller from the gin context. Requests that passed no
// auth middleware yield an unauthenticated identity.
func GetIdentity(c *gin.Context) Identity {
	kind := c.GetString(contextActorKindKey)
	if kind == "" {
		return identity{}
	}
	if kind == ActorService {
		return identity{kind: ActorService}
	}

	raw, ok := c.Get(contextUserIDKey)
	if !ok {
		return identity{}
	}
	uid, ok := raw.(uuid.UUID)
	if !ok {
		return identity{}
	}
	return identity{userID: uid, kind: ActorUser}
}

// ActorID returns the authenticated user's id, or nil for service and
// anonymous callers. Stage history stores nil as a system actor.
func ActorID(c *gin.Context) *uuid.UUID {
	id := GetIdentity(c)
	if id.Kind() != ActorUser {
		return nil
	}
	uid := id.UserID()
	return &uid
}
