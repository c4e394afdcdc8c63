package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	env := flag.Bool("env", true, "Print as .env lines")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		log.Fatalf("Error generating VAPID keys: %v", err)
	}

	if !*env {
		fmt.Println("Public key: ", publicKey)
		fmt.Println("Private key:", privateKey)
		return
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("NEXT_PUBLIC_VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", privateKey)
}
