package main

import (
	"net/http"

	"github.com/davidmrtz/parley/internal/api"
	"github.com/davidmrtz/parley/internal/config"
	"github.com/davidmrtz/parley/internal/db"
	"github.com/davidmrtz/parley/internal/llm"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	llmService, err := llm.New(cfg.BaseURL, cfg.APIKey, "", database)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	handler := api.NewHandler(database, llmService, logger, cfg.UploadsDir)

	http.HandleFunc("/api/message", handler.HandleMessage)
	http.HandleFunc("/api/chats", handler.HandleChats)
	http.HandleFunc("/api/chats/delete", handler.DeleteChat)
	http.HandleFunc("/api/chats/update", handler.UpdateChat)
	http.HandleFunc("/api/chats/role", handler.HandleChatRole)
	http.HandleFunc("/api/messages", handler.GetMessages)
	http.HandleFunc("/api/roles", handler.HandleRoles)
	http.HandleFunc("/api/roles/delete", handler.DeleteRole)
	http.HandleFunc("/api/models", handler.GetModels)

	// Serve uploaded images and the static UI
	http.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadsDir))))
	http.Handle("/", http.FileServer(http.Dir(cfg.WebDir)))

	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
