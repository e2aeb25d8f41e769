package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// 管理者トークンに必要な role クレームの値
const adminRole = "admin"

type AdminSubjectKey struct{}

// GetAdminSubjectFromContext retrieves the authenticated admin's subject from the context.
func GetAdminSubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(AdminSubjectKey{}).(string)
	return sub, ok
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// AdminAuth は HS256 で署名され、role=admin クレームを持つJWTを要求するミドルウェアを返します。
// secret が空の場合、管理者用エンドポイントはすべて 503 を返します。
func AdminAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				log.Println("AdminAuth Error: ADMIN_JWT_SECRET が設定されていないため管理者APIは無効です")
				writeJSONError(w, http.StatusServiceUnavailable, "Admin API is disabled")
				return
			}

			// 1. authorizationヘッダーからJWTを取得
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header is required")
				return
			}
			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || tokenString == "" {
				writeJSONError(w, http.StatusUnauthorized, "Invalid Authorization header format. Must be 'Bearer <token>'")
				return
			}

			// 2. JWTの検証とパース
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				// アルゴリズムがHMACであることを確認
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					log.Printf("AdminAuth Error: Unexpected signing method: %v", token.Header["alg"])
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Printf("AdminAuth Error: JWT parse error: %v", err)
				writeJSONError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			// 3. 管理者ロールの確認
			if role, _ := claims["role"].(string); role != adminRole {
				log.Printf("AdminAuth Error: 管理者ではないトークンによるアクセスです (role=%v)", claims["role"])
				writeJSONError(w, http.StatusForbidden, "Admin role is required")
				return
			}

			sub, _ := claims["sub"].(string)
			log.Printf("AdminAuth Info: 管理者 %s を認証しました", sub)
			ctx := context.WithValue(r.Context(), AdminSubjectKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
