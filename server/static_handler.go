package server

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"Choirbook/logger"
	"Choirbook/storage"
)

// MediaHandler 代理 MinIO 中的乐谱和录音文件，仅对已审批用户开放
func (h *Handler) MediaHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, storage.MediaPrefix)
	if !validObjectKey(key) {
		h.renderError(w, r, http.StatusNotFound, "File not found.")
		return
	}

	obj, err := h.files.Open(r.Context(), key)
	if err != nil {
		if errorStatus(err) == http.StatusNotFound {
			h.renderError(w, r, http.StatusNotFound, "File not found.")
			return
		}
		h.serverError(w, r, "[Media]", err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", detectContentType(key, obj.ContentType))
	w.Header().Set("Cache-Control", "private, max-age=3600")

	// minio.Object 支持 Seek，交给 ServeContent 处理 Range 请求（音频拖动进度）
	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(key), obj.ModTime, rs)
		return
	}

	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		logger.Error("[Media] 文件传输中断", logger.String("key", key), logger.ErrorField(err))
	}
}

// validObjectKey rejects empty keys and any ".." segment.
func validObjectKey(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// detectContentType prefers the stored content type and falls back to the extension.
func detectContentType(key, stored string) string {
	if stored != "" && stored != "application/octet-stream" {
		return stored
	}
	return storage.ContentType(key)
}
