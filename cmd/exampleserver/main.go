// Command exampleserver demonstrates protecting a gin resource server
// route with the facilitator's resource-server glue: a weather
// endpoint priced in Exact-EVM USDC, settled through a remote
// facilitator service.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	ginserver "github.com/x402proto/facilitator/httpserver/gin"
	"github.com/x402proto/facilitator/types"
)

const defaultPort = "4021"

func main() {
	godotenv.Load()

	payTo := os.Getenv("EVM_PAYEE_ADDRESS")
	if payTo == "" {
		fmt.Println("EVM_PAYEE_ADDRESS environment variable is required")
		os.Exit(1)
	}

	facilitatorURL := os.Getenv("FACILITATOR_URL")
	if facilitatorURL == "" {
		fmt.Println("FACILITATOR_URL environment variable is required")
		os.Exit(1)
	}

	accepted := types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Asset:             os.Getenv("USDC_ADDRESS"),
		Amount:            "1000",
		PayTo:             payTo,
		MaxTimeoutSeconds: 60,
	}

	table := ginserver.NewRouteTable()
	if err := table.Register(http.MethodGet, "/weather", accepted); err != nil {
		fmt.Printf("route registration failed: %v\n", err)
		os.Exit(1)
	}

	client := ginserver.NewFacilitatorClient(facilitatorURL, &http.Client{Timeout: 30 * time.Second})

	r := gin.Default()
	r.Use(ginserver.RequirePayment(client, table))

	r.GET("/weather", func(c *gin.Context) {
		city := c.DefaultQuery("city", "San Francisco")
		c.JSON(http.StatusOK, gin.H{
			"city":      city,
			"weather":   "foggy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	fmt.Printf("listening on http://localhost:%s\n", defaultPort)
	if err := r.Run(":" + defaultPort); err != nil {
		fmt.Printf("server error: %v\n", err)
		os.Exit(1)
	}
}
