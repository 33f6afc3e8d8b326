package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Evg-Mazay/rsoi-curse/internal/utils"
)

func main() {
	clientID := flag.String("client", "booking", "client id to generate service credentials for")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the rental services")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32) // 256-bit
	if err != nil {
		log.Fatalf("Failed to generate JWT secret: %v", err)
	}

	clientSecret, clientHash, err := utils.GenerateClientCredentials()
	if err != nil {
		log.Fatalf("Failed to generate client credentials: %v", err)
	}

	fmt.Println("Shared by every service:")
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println()
	fmt.Printf("On the %s service:\n", *clientID)
	fmt.Printf("SERVICE_CLIENT_ID=%s\n", *clientID)
	fmt.Printf("SERVICE_CLIENT_SECRET=%s\n", clientSecret)
	fmt.Println()
	fmt.Println("On every service that issues tokens (append to the list):")
	fmt.Printf("SERVICE_CLIENTS=%s:%s\n", *clientID, clientHash)
	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
