package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	httpclient "github.com/astro-web3/request-authorizer/pkg/http"
)

// Asks a running authorizer whether a token may perform METHOD PATH.
func main() {
	if len(os.Args) < 4 {
		log.Fatalf("Usage: %s <bearer-token> <method> <path> [server-addr]", os.Args[0])
	}

	token, method, path := os.Args[1], strings.ToUpper(os.Args[2]), os.Args[3]
	serverAddr := "http://localhost:8080"
	if len(os.Args) > 4 {
		serverAddr = "http://localhost" + os.Args[4]
	}

	client := httpclient.NewClient(httpclient.WithRetryCount(0))
	resp, err := client.Request(context.Background(), http.MethodGet, serverAddr+"/auth/check/",
		httpclient.WithAuthToken(token),
		httpclient.WithHeader("X-Forwarded-Method", method),
		httpclient.WithHeader("X-Forwarded-Uri", path),
	)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode() == http.StatusOK {
		fmt.Printf("ALLOW %s %s\n", method, path)
		fmt.Printf("  principal: %s\n", resp.Header().Get("X-Auth-Principal-Id"))
		fmt.Printf("  role:      %s\n", resp.Header().Get("X-Auth-Role"))
		return
	}

	fmt.Printf("DENY %s %s\n", method, path)
	fmt.Printf("  status: %d\n", resp.StatusCode())
	fmt.Printf("  body:   %s\n", string(resp.Body()))
	os.Exit(1)
}
