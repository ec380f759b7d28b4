package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/pandurasa/warmindo_be/internal/config"
	"github.com/pandurasa/warmindo_be/internal/db"
	"github.com/pandurasa/warmindo_be/internal/handlers"
	"github.com/pandurasa/warmindo_be/internal/middleware"
	"github.com/pandurasa/warmindo_be/internal/models"
	"github.com/pandurasa/warmindo_be/internal/realtime"
	"github.com/pandurasa/warmindo_be/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(gdb); err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Println("Redis unreachable, push notifications disabled:", err)
		rdb = nil
	}

	hub := realtime.NewHub()
	go hub.Run()

	chatStore := store.NewChatStore(gdb)
	chatH := handlers.NewChatHandler(chatStore, hub, rdb, cfg.JWTSecret)

	app := fiber.New()

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api")

	protected := api.Group("/",
		middleware.JWTFromHeader(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/me", func(c *fiber.Ctx) error {
		uid := c.Locals("userId")

		var user models.User
		if err := gdb.First(&user, "id = ?", uid).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "User not found",
			})
		}

		return c.JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"id":    user.ID,
				"name":  user.Name,
				"email": user.Email,
				"role":  user.Role,
			},
		})
	})

	chat := protected.Group("/chat")

	chat.Get("/my-conversation",
		middleware.RequireRoles("customer"),
		chatH.MyConversation,
	)
	chat.Post("/conversations",
		middleware.RequireRoles("customer"),
		chatH.CreateOrGetConversation,
	)
	chat.Get("/conversations",
		middleware.RequireRoles("admin", "superadmin"),
		chatH.ListConversations,
	)
	chat.Get("/conversations/:id", chatH.GetConversation)
	chat.Post("/messages", chatH.SendMessage)
	chat.Patch("/conversations/:id/read", chatH.MarkAsRead)
	chat.Get("/messages/unread-count", chatH.UnreadCount)
	chat.Patch("/conversations/:id/close",
		middleware.RequireRoles("admin", "superadmin"),
		chatH.CloseConversation,
	)

	// WebSocket endpoint; authenticates via token query param at upgrade time.
	app.Get("/ws/chat", websocket.New(chatH.WebSocketHandler))

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
