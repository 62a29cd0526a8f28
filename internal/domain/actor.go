package domain

import "context"

// Role — роль аутентифицированного пользователя.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor — пользователь, от имени которого выполняется операция.
type Actor struct {
	ID   string
	Role Role
}

// Party — сторона заказа, которую представляет Actor.
type Party int

const (
	PartyNone Party = iota
	PartyBuyer
	PartySeller
)

func (p Party) String() string {
	switch p {
	case PartyBuyer:
		return "buyer"
	case PartySeller:
		return "seller"
	default:
		return "none"
	}
}

// PartyOf определяет, кем Actor приходится заказу.
// Если пользователь одновременно покупатель и продавец, решает его роль.
func (o *Order) PartyOf(a Actor) Party {
	if a.ID == "" {
		return PartyNone
	}
	isBuyer := a.ID == o.BuyerID
	isSeller := a.ID == o.SellerID
	switch {
	case isBuyer && isSeller:
		if a.Role == RoleSeller {
			return PartySeller
		}
		return PartyBuyer
	case isBuyer:
		return PartyBuyer
	case isSeller:
		return PartySeller
	default:
		return PartyNone
	}
}

type actorCtxKey struct{}

// WithActor кладёт Actor в контекст запроса.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext достаёт Actor, положенный WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(Actor)
	return a, ok && a.ID != ""
}
