package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"bloodlink-push/middleware"
)

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", string(middleware.GetJWTSecret()), "JWT Secret Key")
	issuer := flag.String("issuer", "bloodlink-admin", "Token Issuer")
	user := flag.String("user", "", "User id the token is issued for")
	role := flag.String("role", middleware.RoleDonor, "Role: 'admin', 'dispatcher' or 'donor'")
	ttl := flag.Duration("ttl", 365*24*time.Hour, "Token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: token-gen -user <id> [-role donor] [-ttl 8760h]")
		os.Exit(2)
	}
	if !middleware.ValidRole(*role) {
		log.Fatalf("Invalid role: %s. Must be 'admin', 'dispatcher' or 'donor'", *role)
	}

	now := time.Now()
	claims := middleware.Claims{
		Role: *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    *issuer,
			Subject:   *user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(*secret))
	if err != nil {
		log.Fatalf("Error signing token: %v", err)
	}

	fmt.Println(signedToken)
}
