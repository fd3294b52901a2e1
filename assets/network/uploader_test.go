package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/storefront-io/go-assetkit/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUnit = 10 * time.Millisecond

func testConfig(endpoint string) Config {
	config := DefaultConfig(endpoint)
	config.BackoffUnit = testUnit
	config.RequestTimeout = 2 * time.Second
	return config
}

func testFile() media.File {
	file := media.NewFile("cover.jpg", media.MIMEJPEG, []byte("jpeg-bytes"))
	file.Width, file.Height = 800, 600
	return file
}

func writeJSON(t *testing.T, w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestUploader_Upload_Success(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		assert.NoError(t, err)

		assert.Equal(t, "cover.jpg", header.Filename)
		assert.Equal(t, media.MIMEJPEG, header.Header.Get("Content-Type"))
		assert.Equal(t, "jpeg-bytes", string(data))

		writeJSON(t, w, map[string]any{
			"secure_url": "https://cdn.example.com/a.jpg",
			"public_id":  "a",
			"width":      640,
			"height":     480,
			"format":     "jpg",
			"bytes":      10,
		})
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.Token = "secret"
	uploader := NewUploader(config, log.NewLogger(), nil)

	asset, err := uploader.Upload(context.Background(), testFile())
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/a.jpg", asset.URL)
	assert.Equal(t, "a", asset.RemoteID)
	assert.Equal(t, "cover.jpg", asset.SourceFileName)
	assert.Equal(t, 640, asset.Width)
	assert.Equal(t, 480, asset.Height)
	assert.Equal(t, "jpg", asset.EncodedFormat)
	assert.False(t, asset.IsPrimary)
	assert.False(t, asset.UploadedAt.IsZero())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	assert.Equal(t, int64(1), uploader.Stats().FinishedCount())
}

func TestUploader_Upload_FallsBackToFileMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"data": map[string]any{"url": "https://cdn.example.com/b.jpg", "id": "b"},
		})
	}))
	defer server.Close()

	uploader := NewUploader(testConfig(server.URL), log.NewLogger(), nil)

	asset, err := uploader.Upload(context.Background(), testFile())
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/b.jpg", asset.URL)
	assert.Equal(t, "b", asset.RemoteID)
	assert.Equal(t, 800, asset.Width)
	assert.Equal(t, 600, asset.Height)
	assert.Equal(t, "jpeg", asset.EncodedFormat)
	assert.Equal(t, int64(len("jpeg-bytes")), asset.ByteSize)
}

func TestUploader_Upload_LenientMetadata(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantID       string
		wantWidth    int
		wantHeight   int
		wantBytes    int64
		wantUploaded time.Time
	}{
		{
			name:         "space separated created_at",
			body:         `{"url": "https://cdn.example.com/x.jpg", "id": "x", "created_at": "2024-01-02 10:00:00"}`,
			wantID:       "x",
			wantWidth:    800,
			wantHeight:   600,
			wantBytes:    int64(len("jpeg-bytes")),
			wantUploaded: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:       "numeric id",
			body:       `{"url": "https://cdn.example.com/x.jpg", "id": 42}`,
			wantID:     "42",
			wantWidth:  800,
			wantHeight: 600,
			wantBytes:  int64(len("jpeg-bytes")),
		},
		{
			name:       "string dimensions",
			body:       `{"url": "https://cdn.example.com/x.jpg", "image_id": "x", "width": "1024", "height": "768", "bytes": "2048"}`,
			wantID:     "x",
			wantWidth:  1024,
			wantHeight: 768,
			wantBytes:  2048,
		},
		{
			name:       "unusable metadata is dropped",
			body:       `{"url": "https://cdn.example.com/x.jpg", "public_id": 9007199254740993, "width": {"px": 1}, "height": true, "format": ["jpg"], "created_at": "yesterday"}`,
			wantID:     "9007199254740993",
			wantWidth:  800,
			wantHeight: 600,
			wantBytes:  int64(len("jpeg-bytes")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			uploader := NewUploader(testConfig(server.URL), log.NewLogger(), nil)
			now := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
			uploader.now = func() time.Time { return now }

			asset, err := uploader.Upload(context.Background(), testFile())
			require.NoError(t, err)

			assert.Equal(t, "https://cdn.example.com/x.jpg", asset.URL)
			assert.Equal(t, tt.wantID, asset.RemoteID)
			assert.Equal(t, tt.wantWidth, asset.Width)
			assert.Equal(t, tt.wantHeight, asset.Height)
			assert.Equal(t, tt.wantBytes, asset.ByteSize)
			assert.Equal(t, "jpeg", asset.EncodedFormat)
			if tt.wantUploaded.IsZero() {
				assert.Equal(t, now, asset.UploadedAt)
			} else {
				assert.True(t, tt.wantUploaded.Equal(asset.UploadedAt), asset.UploadedAt)
			}
		})
	}
}

func TestUploader_Upload_RetriesServerErrors(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&requestCount, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
			return
		}
		writeJSON(t, w, map[string]any{"url": "https://cdn.example.com/c.jpg", "id": "c"})
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	observer, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	uploader := NewUploader(testConfig(server.URL), log.NewLogger(), observer)

	start := time.Now()
	asset, err := uploader.Upload(context.Background(), testFile())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "c", asset.RemoteID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
	assert.GreaterOrEqual(t, elapsed, BackoffDelay(testUnit, 1)+BackoffDelay(testUnit, 2))

	assert.Equal(t, float64(3), testutil.ToFloat64(observer.uploadAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(observer.uploadOutcomes.WithLabelValues("success")))
	assert.Equal(t, float64(len("jpeg-bytes")), testutil.ToFloat64(observer.uploadBytes))
}

func TestUploader_Upload_ClientErrorIsTerminal(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("unsupported image"))
	}))
	defer server.Close()

	uploader := NewUploader(testConfig(server.URL), log.NewLogger(), nil)

	_, err := uploader.Upload(context.Background(), testFile())
	require.Error(t, err)

	var failed *UploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, ClientRejected, failed.Kind)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, http.StatusUnprocessableEntity, failed.StatusCode)
	assert.Contains(t, err.Error(), "unsupported image")
	assert.True(t, errors.Is(err, ErrUploadFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	assert.Equal(t, int64(1), uploader.Stats().FailedCount())
}

func TestUploader_Upload_ExhaustsAttempts(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	uploader := NewUploader(testConfig(server.URL), log.NewLogger(), nil)

	_, err := uploader.Upload(context.Background(), testFile())

	var failed *UploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, ServerError, failed.Kind)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, http.StatusBadGateway, failed.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
}

func TestUploader_Upload_InvalidResponseIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>ok</html>"},
		{name: "missing url", body: `{"id": "x"}`},
		{name: "missing id", body: `{"url": "https://cdn.example.com/x.jpg"}`},
		{name: "non scalar id", body: `{"url": "https://cdn.example.com/x.jpg", "id": {"value": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requestCount, 1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			uploader := NewUploader(testConfig(server.URL), log.NewLogger(), nil)

			_, err := uploader.Upload(context.Background(), testFile())

			var failed *UploadFailedError
			require.True(t, errors.As(err, &failed))
			assert.Equal(t, InvalidResponse, failed.Kind)
			assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		})
	}
}

func TestUploader_Upload_TimeoutIsRetried(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.RequestTimeout = 50 * time.Millisecond
	uploader := NewUploader(config, log.NewLogger(), nil)

	_, err := uploader.Upload(context.Background(), testFile())

	var failed *UploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, Timeout, failed.Kind)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
}

func TestUploader_Upload_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.BackoffUnit = time.Second
	uploader := NewUploader(config, log.NewLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := uploader.Upload(ctx, testFile())

	var failed *UploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, Timeout, failed.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUploader_Delete(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{name: "deleted", statusCode: http.StatusNoContent},
		{name: "already gone", statusCode: http.StatusNotFound},
		{name: "forbidden", statusCode: http.StatusForbidden, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotMethod string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath, gotMethod = r.URL.EscapedPath(), r.Method
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			config := testConfig(server.URL + "/upload")
			config.DeleteEndpoint = server.URL + "/images/"
			uploader := NewUploader(config, log.NewLogger(), nil)

			err := uploader.Delete(context.Background(), "shop/a b")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, http.MethodDelete, gotMethod)
			assert.Equal(t, "/images/shop%2Fa%20b", gotPath)
		})
	}
}

func TestUploader_Delete_EmptyID(t *testing.T) {
	uploader := NewUploader(testConfig("http://127.0.0.1:0"), log.NewLogger(), nil)
	require.Error(t, uploader.Delete(context.Background(), ""))
}

func Test_createRetryPolicy(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		want       bool
	}{
		{name: "ok", statusCode: http.StatusOK, want: false},
		{name: "created", statusCode: http.StatusCreated, want: false},
		{name: "bad request", statusCode: http.StatusBadRequest, want: false},
		{name: "too large", statusCode: http.StatusRequestEntityTooLarge, want: false},
		{name: "server error", statusCode: http.StatusInternalServerError, want: true},
		{name: "unavailable", statusCode: http.StatusServiceUnavailable, want: true},
		{name: "redirect", statusCode: http.StatusPermanentRedirect, want: true},
		{name: "network error", err: errors.New("connection reset"), want: true},
	}
	policy := createRetryPolicy(log.NewLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			got, err := policy(context.Background(), resp, tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		got, err := policy(ctx, nil, errors.New("boom"))
		assert.False(t, got)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, BackoffDelay(time.Second, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(time.Second, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(time.Second, 3))

	backoff := exponentialBackoff(time.Second)
	assert.Equal(t, 2*time.Second, backoff(0, 0, 0, nil))
	assert.Equal(t, 4*time.Second, backoff(0, 0, 1, nil))
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, Timeout.Retryable())
	assert.True(t, ServerError.Retryable())
	assert.True(t, NetworkError.Retryable())
	assert.False(t, ClientRejected.Retryable())
	assert.False(t, InvalidResponse.Retryable())
	assert.False(t, Canceled.Retryable())
}

func TestNewPrometheusObserver_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	first.RecordDelete(time.Millisecond, nil)
	second.RecordDelete(time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(first.deleteOutcomes.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(first.deleteOutcomes.WithLabelValues("error")))
}

type recordingLogger struct {
	log.Logger
	printed []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.printed = append(l.printed, fmt.Sprintf(format, v...))
}

type failingBody struct {
	err error
}

func (b failingBody) Read([]byte) (int, error) { return 0, io.EOF }
func (b failingBody) Close() error             { return b.err }

func TestUploader_CloseBodyLogsErrorVerbatim(t *testing.T) {
	logger := &recordingLogger{Logger: log.NewLogger()}
	uploader := NewUploader(testConfig("http://127.0.0.1:1"), logger, nil)

	uploader.closeBody(failingBody{err: errors.New("close failed at 100%d")})

	assert.Equal(t, []string{"close failed at 100%d"}, logger.printed)
}
