package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
)

const DefaultUploadTokenTTL = 15 * time.Minute

var objectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// ValidObjectName reports whether name is usable as a flat storage key.
func ValidObjectName(name string) bool {
	return objectNamePattern.MatchString(name) && !strings.Contains(name, "..")
}

type uploadClaims struct {
	ContentType string `json:"ct"`
	MaxSize     int64  `json:"max"`
	jwt.RegisteredClaims
}

// UploadUseCase implements the upload handshake: Authorize issues a
// short-lived token bound to one object name, Accept streams the body into
// blob storage after checking it.
type UploadUseCase struct {
	storage ports.BlobStorage
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewUploadUseCase(storage ports.BlobStorage, secret []byte, publicBaseURL string, ttl time.Duration) *UploadUseCase {
	if ttl <= 0 {
		ttl = DefaultUploadTokenTTL
	}
	return &UploadUseCase{
		storage: storage,
		secret:  secret,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (uc *UploadUseCase) Authorize(
	_ context.Context,
	objectName string,
	constraints domain.UploadConstraints,
) (*domain.UploadAuthorization, error) {
	const op = "authorize upload"

	if !ValidObjectName(objectName) {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("invalid object name %q", objectName))
	}
	if constraints.ContentType != domain.PDFMediaType {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unsupported content type %q", constraints.ContentType))
	}
	if constraints.Size <= 0 || constraints.Size > domain.MaxUploadBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("size %d outside 1..%d", constraints.Size, domain.MaxUploadBytes))
	}

	now := uc.now().UTC()
	expiresAt := now.Add(uc.ttl)
	claims := uploadClaims{
		ContentType: constraints.ContentType,
		MaxSize:     constraints.Size,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   objectName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(uc.secret)
	if err != nil {
		return nil, fmt.Errorf("%s: sign token: %w", op, err)
	}

	return &domain.UploadAuthorization{
		ObjectName: objectName,
		UploadURL:  uc.baseURL + "/v1/uploads/" + url.PathEscape(objectName),
		Token:      token,
		ExpiresAt:  expiresAt.Truncate(time.Second),
	}, nil
}

func (uc *UploadUseCase) Accept(
	ctx context.Context,
	token, objectName string,
	size int64,
	body io.Reader,
) (*domain.ObjectInfo, error) {
	const op = "accept upload"

	claims, err := uc.parseToken(token)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnauthorized, op, err)
	}
	if claims.Subject != objectName {
		return nil, domain.WrapError(domain.ErrForbidden, op, fmt.Errorf("token is not valid for %q", objectName))
	}
	if size > claims.MaxSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("body of %d bytes exceeds authorized %d", size, claims.MaxSize))
	}

	info, err := uc.storage.Put(ctx, objectName, claims.ContentType, size, &ceilingReader{r: body, remaining: claims.MaxSize})
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, domain.WrapError(domain.ErrInvalidInput, op, err)
		}
		return nil, fmt.Errorf("%s: store object: %w", op, err)
	}
	return info, nil
}

func (uc *UploadUseCase) parseToken(raw string) (*uploadClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("missing upload token")
	}
	claims := &uploadClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return uc.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(uc.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

var errBodyTooLarge = errors.New("upload body exceeds authorized size")

// ceilingReader fails once more than remaining bytes were read.
type ceilingReader struct {
	r         io.Reader
	remaining int64
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, errBodyTooLarge
	}
	return n, err
}
