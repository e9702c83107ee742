//go:build ignore
// +build ignore

// This script generates a bearer token for the custody API, signed with the
// shared auth service secret.
// Run with: go run scripts/generate-token.go

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		secret = "devSecret123456789012345678901234"
	}

	userID := os.Getenv("AUTH_USER_ID")
	if userID == "" {
		userID = "user-1"
	}

	role := os.Getenv("AUTH_ROLE")
	if role == "" {
		role = "operator"
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  userID,
		"username": userID,
		"role":     role,
		"iat":      now.Unix(),
		"exp":      now.Add(1 * time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Custody API Bearer Token ===")
	fmt.Println()
	fmt.Println(signed)
	fmt.Println()
	fmt.Println("To use this token:")
	fmt.Println("  curl -H \"Authorization: Bearer " + signed + "\" http://localhost:8082/api/v1/equipment")
}
