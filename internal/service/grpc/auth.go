package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

const authorizationHeader = "authorization"

// Claims описывает access-токен: sub содержит идентификатор пользователя, role его роль.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator проверяет bearer JWT (HS256), выданный внешним сервисом пользователей.
type Authenticator struct {
	secret []byte
	logger *log.Entry
}

func NewAuthenticator(secret string, logger *log.Entry) *Authenticator {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-auth")
	}
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Authenticate разбирает токен и возвращает Actor.
func (a *Authenticator) Authenticate(raw string) (domain.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	actor := domain.Actor{ID: claims.Subject, Role: domain.Role(claims.Role)}
	if actor.ID == "" {
		return domain.Actor{}, fmt.Errorf("%w: subject is empty", domain.ErrUnauthenticated)
	}
	if !actor.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthenticated, claims.Role)
	}
	return actor, nil
}

// UnaryInterceptor кладёт Actor в контекст запросов к OrderService.
// Прочие сервисы (health, reflection) пропускаются без проверки.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}

		raw, err := bearerToken(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		actor, err := a.Authenticate(raw)
		if err != nil {
			a.logger.WithError(err).WithField("method", info.FullMethod).Warn("invalid access token")
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(domain.WithActor(ctx, actor), req)
	}
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing authorization metadata")
	}
	values := md.Get(authorizationHeader)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errors.New("missing authorization metadata")
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization metadata format")
	}
	return strings.TrimSpace(token), nil
}

// SignToken выпускает токен для actor. Используется в тестах и локальных утилитах:
// в продакшене токены выдаёт сервис пользователей.
func SignToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
