package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope 是所有接口统一的返回结构，沿用 {"response": ..., "ret": code} 约定。
type Envelope struct {
	Response any `json:"response"`
	Ret      int `json:"ret"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// RespondEnvelope 以 200 状态码发送带业务返回码的响应。
func RespondEnvelope(w http.ResponseWriter, ret int, response any) {
	RespondJSON(w, http.StatusOK, Envelope{Response: response, Ret: ret})
}

// RespondError 发送错误响应，ret 与 HTTP 状态码一致。
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Response: map[string]string{"text": message}, Ret: status})
}
