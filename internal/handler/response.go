package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hopehub/internal/middleware"
	"github.com/hitoshi/hopehub/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はvをJSONとしてステータスコードとともに書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 未知のフィールドは無視し、ボディの後ろに余分なデータがある場合はエラーとする。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// writeInvalidRequest はボディの解析失敗を400で返す。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewValidationAPIError(verr))
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	switch {
	case errors.Is(err, model.ErrUnauthorized):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, model.ErrForbidden):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
	case errors.Is(err, model.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, model.ErrEmailTaken):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewEmailTakenError())
	case errors.Is(err, model.ErrPostNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewPostNotFoundError(""))
	default:
		// APIError以外のエラーは内部サーバーエラーとして扱う
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidLogin, model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidCursor:
		return http.StatusBadRequest
	case model.ErrCodePostNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requireIdentity はガードが注入した主体を返す。存在しない場合は401を書き込みfalseを返す。
func requireIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return model.Identity{}, false
	}
	return identity, true
}
