package minio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/filestore"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"no such key", miniogo.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, errs.ErrKindNotFound},
		{"no such bucket", miniogo.ErrorResponse{Code: "NoSuchBucket"}, errs.ErrKindNotFound},
		{"access denied", miniogo.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, errs.ErrKindPermissionDenied},
		{"bad signature", miniogo.ErrorResponse{Code: "SignatureDoesNotMatch"}, errs.ErrKindPermissionDenied},
		{"bad name", miniogo.ErrorResponse{Code: "InvalidBucketName"}, errs.ErrKindInvalidInput},
		{"slow down", miniogo.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, errs.ErrKindTimeout},
		{"status 401", miniogo.ErrorResponse{StatusCode: http.StatusUnauthorized}, errs.ErrKindPermissionDenied},
		{"status 500", miniogo.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, errs.ErrKindQueryFailed},
		{"wrapped response", fmt.Errorf("put: %w", miniogo.ErrorResponse{Code: "NoSuchKey"}), errs.ErrKindNotFound},
		{"canceled", context.Canceled, errs.ErrKindCanceled},
		{"deadline", fmt.Errorf("stat: %w", context.DeadlineExceeded), errs.ErrKindTimeout},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.Nil(t, mapError(nil, "op"))
}

func TestMapError_Message(t *testing.T) {
	err := mapError(miniogo.ErrorResponse{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}, "failed to upload q.csv")
	assert.Equal(t, "failed to upload q.csv: The specified bucket does not exist", errs.Message(err))
}

func TestNew_NoEndpoint(t *testing.T) {
	_, err := New(context.Background(), &filestore.Config{})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestPresignGetURL(t *testing.T) {
	cfg := filestore.DefaultConfig("127.0.0.1:9000", "minioadmin", "minioadmin")
	cfg.Region = "us-east-1"
	d, err := newDriver(cfg)
	require.NoError(t, err)

	raw, err := d.PresignGetURL(context.Background(), "exports", "q1.csv", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.Equal(t, "/exports/q1.csv", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
