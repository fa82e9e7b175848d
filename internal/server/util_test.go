package server

import (
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "api": "/api", "/api": "/api", "/api/": "/api", " api ": "/api"}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), in)
	}
}

func TestIsSafeProjectID(t *testing.T) {
	for _, s := range []string{"a", "A1._-", "shop-front", "external:3000"} {
		assert.True(t, isSafeProjectID(s), s)
	}
	for _, s := range []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글"} {
		assert.False(t, isSafeProjectID(s), s)
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	abs := "/tmp/app"
	if runtime.GOOS == "windows" {
		abs = `C:\tmp\app`
	}
	assert.True(t, isSafeAbsPath(abs))
	assert.False(t, isSafeAbsPath(""))
	assert.False(t, isSafeAbsPath("tmp/x"))
	sep := string(filepath.Separator)
	assert.False(t, isSafeAbsPath(filepath.Dir(abs)+sep+".."+sep+"etc"))
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
