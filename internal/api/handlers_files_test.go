// handlers_files_test.go - Tests for file handlers
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/testutil"
	"github.com/print-resume/backend/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected APIError, got %T", err)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
}

// fakeIndex records deletions and serves a fixed index.
type fakeIndex struct {
	deleted []string
}

func (f *fakeIndex) Ensure(ctx context.Context, fileID, path string) (*models.LayerIndex, error) {
	return &models.LayerIndex{FileID: fileID}, nil
}

func (f *fakeIndex) FirstMarkerAtOrAbove(ctx context.Context, fileID string, threshold float64) (*models.LayerMarker, bool, error) {
	return nil, false, nil
}

func (f *fakeIndex) Delete(fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}

var gcodeOnly = FilePolicy{AllowDeletion: true, AllowedTypes: ParseAllowedTypes(".gcode, gco")}

func TestFileHandler_HandleUploadFile(t *testing.T) {
	tests := []struct {
		name       string
		request    uploadFileRequest
		wantStatus int
		errCode    string
	}{
		{
			name: "valid file upload",
			request: uploadFileRequest{
				Name: "benchy.gcode",
				Data: base64.StdEncoding.EncodeToString([]byte("G28\nG1 Z0.2\n")),
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "empty name",
			request: uploadFileRequest{
				Data: base64.StdEncoding.EncodeToString([]byte("G28\n")),
			},
			wantStatus: http.StatusBadRequest,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name:       "empty data",
			request:    uploadFileRequest{Name: "benchy.gcode"},
			wantStatus: http.StatusBadRequest,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name:       "invalid base64",
			request:    uploadFileRequest{Name: "benchy.gcode", Data: "not-valid-base64!!!"},
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
		{
			name: "unsupported extension",
			request: uploadFileRequest{
				Name: "benchy.stl",
				Data: base64.StdEncoding.EncodeToString([]byte("solid")),
			},
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			handler := NewFileHandler(store, nil, nil, gcodeOnly)

			c, rec := newContext(http.MethodPost, "/api/files/upload", jsonBody(t, tt.request))
			err := handler.HandleUploadFile(c)

			if tt.errCode != "" {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				assert.Equal(t, 0, store.GetFileCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var info models.FileInfo
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
			assert.NotEmpty(t, info.ID)
			assert.Equal(t, tt.request.Name, info.Name)
			assert.Equal(t, "uploaded", info.Status)
		})
	}
}

func TestFileHandler_HandleUploadBinary(t *testing.T) {
	store := testutil.NewMockStorage()
	handler := NewFileHandler(store, nil, nil, gcodeOnly)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "part.gco")
	part.Write([]byte("G28\n"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	require.NoError(t, handler.HandleUploadBinary(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	data, err := store.GetFileData(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "G28\n", string(data))
}

func TestFileHandler_HandleGetRecentFiles(t *testing.T) {
	store := testutil.NewMockStorage()
	for i := 0; i < 25; i++ {
		store.AddFile(fmt.Sprintf("id-%d", i), fmt.Sprintf("part%d.gcode", i), []byte("G28\n"))
	}
	_, err := store.SaveGenerated("part0_resumed.gcode", "id-0", strings.NewReader("G28\n"))
	require.NoError(t, err)
	handler := NewFileHandler(store, nil, nil, gcodeOnly)

	tests := []struct {
		query     string
		wantCount int
	}{
		{"", 20},
		{"?kind=uploaded", 20},
		{"?kind=generated", 1},
		{"?kind=other", 0},
	}
	for _, tt := range tests {
		t.Run("query "+tt.query, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/api/files/recent"+tt.query, nil)
			require.NoError(t, handler.HandleGetRecentFiles(c))

			var files []models.FileInfo
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
			assert.Len(t, files, tt.wantCount)
		})
	}
}

func TestFileHandler_HandleGetFile(t *testing.T) {
	store := testutil.NewMockStorage()
	store.AddFile("test-id-1", "benchy.gcode", []byte("G28\n"))
	handler := NewFileHandler(store, nil, nil, gcodeOnly)

	t.Run("existing file", func(t *testing.T) {
		c, rec := newContext(http.MethodGet, "/api/files/test-id-1", nil)
		c.SetParamNames("id")
		c.SetParamValues("test-id-1")
		require.NoError(t, handler.HandleGetFile(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"benchy.gcode"`)
	})

	t.Run("missing file", func(t *testing.T) {
		c, _ := newContext(http.MethodGet, "/api/files/nope", nil)
		c.SetParamNames("id")
		c.SetParamValues("nope")
		assertAPIError(t, handler.HandleGetFile(c), http.StatusNotFound, "NOT_FOUND")
	})

	t.Run("missing id", func(t *testing.T) {
		c, _ := newContext(http.MethodGet, "/api/files/", nil)
		assertAPIError(t, handler.HandleGetFile(c), http.StatusBadRequest, "VALIDATION_ERROR")
	})
}

func TestFileHandler_HandleDeleteFile(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		policy     FilePolicy
		wantStatus int
		errCode    string
	}{
		{
			name:       "delete existing file",
			fileID:     "test-id-1",
			policy:     FilePolicy{AllowDeletion: true},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "delete non-existent file",
			fileID:     "does-not-exist",
			policy:     FilePolicy{AllowDeletion: true},
			wantStatus: http.StatusNotFound,
			errCode:    "NOT_FOUND",
		},
		{
			name:       "deletion disabled",
			fileID:     "test-id-1",
			policy:     FilePolicy{},
			wantStatus: http.StatusForbidden,
			errCode:    "FORBIDDEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			store.AddFile("test-id-1", "benchy.gcode", []byte("G28\n"))
			index := &fakeIndex{}
			handler := NewFileHandler(store, index, nil, tt.policy)

			c, rec := newContext(http.MethodDelete, "/api/files/"+tt.fileID, nil)
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)
			err := handler.HandleDeleteFile(c)

			if tt.errCode != "" {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				assert.Equal(t, 1, store.GetFileCount())
				assert.Empty(t, index.deleted)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, 0, store.GetFileCount())
			assert.Equal(t, []string{tt.fileID}, index.deleted)
		})
	}
}

func TestFileHandler_HandleRenameFile(t *testing.T) {
	tests := []struct {
		name    string
		fileID  string
		newName string
		errCode string
	}{
		{name: "rename", fileID: "test-id-1", newName: "renamed.gcode"},
		{name: "blank name", fileID: "test-id-1", newName: "  ", errCode: "VALIDATION_ERROR"},
		{name: "missing file", fileID: "nope", newName: "x.gcode", errCode: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			store.AddFile("test-id-1", "benchy.gcode", []byte("G28\n"))
			handler := NewFileHandler(store, nil, nil, gcodeOnly)

			c, rec := newContext(http.MethodPut, "/api/files/"+tt.fileID, jsonBody(t, renameFileRequest{Name: tt.newName}))
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)
			err := handler.HandleRenameFile(c)

			if tt.errCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, err.(*APIError).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			info, _ := store.Get(tt.fileID)
			assert.Equal(t, tt.newName, info.Name)
		})
	}
}

func TestFileHandler_ChunkedUpload(t *testing.T) {
	store := testutil.NewMockStorage()
	jobs := upload.NewManager(store, nil)
	handler := NewFileHandler(store, nil, jobs, gcodeOnly)

	uploadID := uuid.New().String()
	content := []string{"G28\n", "G1 Z0.2\n", "G1 X10 E1\n"}
	for i, chunk := range content {
		c, rec := newContext(http.MethodPost, "/api/files/upload/chunk", jsonBody(t, uploadChunkRequest{
			UploadID:    uploadID,
			ChunkIndex:  i,
			Data:        base64.StdEncoding.EncodeToString([]byte(chunk)),
			TotalChunks: len(content),
		}))
		require.NoError(t, handler.HandleUploadChunk(c))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	c, rec := newContext(http.MethodPost, "/api/files/upload/complete", jsonBody(t, completeUploadRequest{
		UploadID:    uploadID,
		Name:        "part.gcode",
		TotalChunks: len(content),
	}))
	require.NoError(t, handler.HandleCompleteUpload(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)

	var job upload.Job
	require.Eventually(t, func() bool {
		c, rec := newContext(http.MethodGet, "/api/files/upload/"+started.JobID+"/status", nil)
		c.SetParamNames("jobId")
		c.SetParamValues(started.JobID)
		if err := handler.HandleUploadJobStatus(c); err != nil {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Done()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, upload.StatusComplete, job.Status, job.Error)
	data, err := store.GetFileData(job.FileInfo.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(content, ""), string(data))

	// Finished jobs stream a single event.
	c, rec = newContext(http.MethodGet, "/api/files/upload/"+started.JobID+"/stream", nil)
	c.SetParamNames("jobId")
	c.SetParamValues(started.JobID)
	require.NoError(t, handler.HandleUploadJobStream(c))
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "data: "))
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)
}

func TestFileHandler_ChunkValidation(t *testing.T) {
	store := testutil.NewMockStorage()
	handler := NewFileHandler(store, nil, upload.NewManager(store, nil), gcodeOnly)

	tests := []struct {
		name    string
		call    func(echo.Context) error
		body    interface{}
		errCode string
	}{
		{
			name:    "chunk without upload id",
			call:    handler.HandleUploadChunk,
			body:    uploadChunkRequest{UploadID: "../escape", Data: "AA=="},
			errCode: "VALIDATION_ERROR",
		},
		{
			name:    "chunk with negative index",
			call:    handler.HandleUploadChunk,
			body:    uploadChunkRequest{UploadID: uuid.New().String(), ChunkIndex: -1, Data: "AA=="},
			errCode: "VALIDATION_ERROR",
		},
		{
			name:    "complete without chunks count",
			call:    handler.HandleCompleteUpload,
			body:    completeUploadRequest{UploadID: uuid.New().String(), Name: "a.gcode"},
			errCode: "BAD_REQUEST",
		},
		{
			name:    "complete with unknown encoding",
			call:    handler.HandleCompleteUpload,
			body:    completeUploadRequest{UploadID: uuid.New().String(), Name: "a.gcode", TotalChunks: 1, Encoding: "brotli"},
			errCode: "BAD_REQUEST",
		},
		{
			name:    "complete with unsupported type",
			call:    handler.HandleCompleteUpload,
			body:    completeUploadRequest{UploadID: uuid.New().String(), Name: "a.3mf", TotalChunks: 1},
			errCode: "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(http.MethodPost, "/api/files/upload", jsonBody(t, tt.body))
			err := tt.call(c)
			require.Error(t, err)
			assert.Equal(t, tt.errCode, err.(*APIError).Code)
		})
	}

	t.Run("unknown job", func(t *testing.T) {
		c, _ := newContext(http.MethodGet, "/api/files/upload/x/status", nil)
		c.SetParamNames("jobId")
		c.SetParamValues("x")
		assertAPIError(t, handler.HandleUploadJobStatus(c), http.StatusNotFound, "NOT_FOUND")
	})
}

func TestParseAllowedTypes(t *testing.T) {
	assert.Equal(t, []string{".gcode", ".gco", ".gz"}, ParseAllowedTypes(".GCODE, gco,,.gz "))
	assert.Nil(t, ParseAllowedTypes(""))

	p := FilePolicy{AllowedTypes: ParseAllowedTypes(".gcode")}
	assert.True(t, p.allows("Benchy.GCODE"))
	assert.False(t, p.allows("benchy.stl"))
	assert.True(t, FilePolicy{}.allows("anything.bin"))
}
