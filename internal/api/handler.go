package api

import (
    "encoding/base64"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "os"
    "path/filepath"
    "strconv"
    "strings"

    "github.com/davidmrtz/parley/internal/db"
    "github.com/davidmrtz/parley/internal/llm"
    "github.com/davidmrtz/parley/internal/models"
    "github.com/go-playground/validator/v10"
    "github.com/google/uuid"
    "go.uber.org/zap"
)

type Handler struct {
    db         *db.Database
    llm        *llm.Service
    logger     *zap.Logger
    validate   *validator.Validate
    uploadsDir string
}

func NewHandler(database *db.Database, llmService *llm.Service, logger *zap.Logger, uploadsDir string) *Handler {
    return &Handler{
        db:         database,
        llm:        llmService,
        logger:     logger,
        validate:   validator.New(),
        uploadsDir: uploadsDir,
    }
}

type MessageRequest struct {
    Content string `json:"content" validate:"required"`
    Model   string `json:"model"`
    Image   string `json:"image"` // optional base64 data URL
}

type MessageResponse struct {
    UserMessage *models.Message `json:"user_message"`
    Message     *models.Message `json:"message"`
}

type CreateChatRequest struct {
    Title  string `json:"title" validate:"required,max=200"`
    RoleID *int64 `json:"role_id"`
}

type UpdateChatRequest struct {
    Title string `json:"title" validate:"required,max=200"`
}

type CreateRoleRequest struct {
    Name    string `json:"name" validate:"required,max=100"`
    Persona string `json:"persona" validate:"required"`
}

// HandleMessage runs one conversation turn: persist the user message, call the
// completion API once, persist and return the assistant message. On completion
// failure the user message stays persisted and no assistant message is added.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }

    chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid chat ID", http.StatusBadRequest)
        return
    }

    var req MessageRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }
    if err := h.validate.Struct(req); err != nil {
        http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
        return
    }

    model, err := llm.LookupModel(req.Model)
    if err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }

    imagePath := ""
    if req.Image != "" {
        if !model.Vision {
            http.Error(w, fmt.Sprintf("model %q does not accept images", model.Key), http.StatusBadRequest)
            return
        }

        imagePath, err = h.saveImage(req.Image)
        if err != nil {
            h.logger.Error("Failed to save image", zap.Error(err))
            http.Error(w, fmt.Sprintf("Invalid image: %v", err), http.StatusBadRequest)
            return
        }
    }

    userMsg := &models.Message{
        ChatID:    chatID,
        Role:      "user",
        Content:   req.Content,
        Model:     "user_input",
        ImagePath: imagePath,
    }
    if err := h.db.SaveMessage(userMsg); err != nil {
        h.writeStoreError(w, "Failed to save message", err)
        return
    }
    h.audit("Message added", fmt.Sprintf("Chat ID: %d, Role: user", chatID))

    response, err := h.llm.Reply(r.Context(), chatID, req.Model, req.Image)
    if err != nil {
        h.logger.Error("Failed to generate reply",
            zap.Error(err),
            zap.Int64("chatID", chatID),
            zap.String("model", req.Model))
        http.Error(w, fmt.Sprintf("Failed to generate reply: %v", err), http.StatusBadGateway)
        return
    }
    h.audit("Message added", fmt.Sprintf("Chat ID: %d, Role: assistant, Model: %s", chatID, response.Model))

    writeJSON(w, h.logger, MessageResponse{UserMessage: userMsg, Message: response})
}

// HandleChats lists chats (GET, newest first) or creates one (POST).
func (h *Handler) HandleChats(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        chats, err := h.db.GetChats()
        if err != nil {
            h.logger.Error("Failed to get chats", zap.Error(err))
            http.Error(w, "Internal server error", http.StatusInternalServerError)
            return
        }
        writeJSON(w, h.logger, chats)

    case http.MethodPost:
        var req CreateChatRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, "Invalid request body", http.StatusBadRequest)
            return
        }
        if err := h.validate.Struct(req); err != nil {
            http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
            return
        }

        chat, err := h.db.CreateChat(req.Title, req.RoleID)
        if err != nil {
            h.writeStoreError(w, "Failed to create chat", err)
            return
        }
        h.audit("Chat created", fmt.Sprintf("Chat ID: %d, Title: %s", chat.ID, chat.Title))

        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusCreated)
        json.NewEncoder(w).Encode(chat)

    default:
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
    }
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }

    chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid chat ID", http.StatusBadRequest)
        return
    }

    messages, err := h.db.GetMessages(chatID)
    if err != nil {
        h.writeStoreError(w, "Failed to get messages", err)
        return
    }
    writeJSON(w, h.logger, messages)
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodDelete {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }

    chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid chat ID", http.StatusBadRequest)
        return
    }

    messages, err := h.db.GetMessages(chatID)
    if err != nil {
        h.writeStoreError(w, "Failed to get messages", err)
        return
    }

    if err := h.db.DeleteChat(chatID); err != nil {
        h.writeStoreError(w, "Failed to delete chat", err)
        return
    }
    h.removeUploads(messages)
    h.audit("Chat deleted", fmt.Sprintf("Chat ID: %d", chatID))
    w.WriteHeader(http.StatusOK)
}

// removeUploads unlinks the image files referenced by deleted messages.
// Best effort: a missing or stubborn file only gets a warning.
func (h *Handler) removeUploads(messages []models.Message) {
    for _, msg := range messages {
        if msg.ImagePath == "" {
            continue
        }
        path := filepath.Join(h.uploadsDir, msg.ImagePath)
        if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
            h.logger.Warn("Failed to remove upload", zap.Error(err), zap.String("path", path))
        }
    }
}

func (h *Handler) UpdateChat(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPut {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }

    chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid chat ID", http.StatusBadRequest)
        return
    }

    var req UpdateChatRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }
    if err := h.validate.Struct(req); err != nil {
        http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
        return
    }

    if err := h.db.UpdateChatTitle(chatID, req.Title); err != nil {
        h.writeStoreError(w, "Failed to update chat", err)
        return
    }
    w.WriteHeader(http.StatusOK)
}

// HandleChatRole assigns (PUT, with role_id) or clears (DELETE) a chat's role.
func (h *Handler) HandleChatRole(w http.ResponseWriter, r *http.Request) {
    chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid chat ID", http.StatusBadRequest)
        return
    }

    switch r.Method {
    case http.MethodPut:
        roleID, err := strconv.ParseInt(r.URL.Query().Get("role_id"), 10, 64)
        if err != nil {
            http.Error(w, "Invalid role ID", http.StatusBadRequest)
            return
        }
        if err := h.db.SetChatRole(chatID, roleID); err != nil {
            h.writeStoreError(w, "Failed to assign role", err)
            return
        }
        h.audit("Role assigned", fmt.Sprintf("Chat ID: %d, Role ID: %d", chatID, roleID))
        w.WriteHeader(http.StatusOK)

    case http.MethodDelete:
        if err := h.db.ClearChatRole(chatID); err != nil {
            h.writeStoreError(w, "Failed to clear role", err)
            return
        }
        w.WriteHeader(http.StatusOK)

    default:
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
    }
}

// HandleRoles lists roles (GET) or creates one (POST).
func (h *Handler) HandleRoles(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        roles, err := h.db.GetRoles()
        if err != nil {
            h.logger.Error("Failed to get roles", zap.Error(err))
            http.Error(w, "Internal server error", http.StatusInternalServerError)
            return
        }
        writeJSON(w, h.logger, roles)

    case http.MethodPost:
        var req CreateRoleRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, "Invalid request body", http.StatusBadRequest)
            return
        }
        if err := h.validate.Struct(req); err != nil {
            http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
            return
        }

        role, err := h.db.CreateRole(req.Name, req.Persona)
        if err != nil {
            h.logger.Error("Failed to create role", zap.Error(err))
            http.Error(w, "Internal server error", http.StatusInternalServerError)
            return
        }
        h.audit("Role created", fmt.Sprintf("Role ID: %d, Name: %s", role.ID, role.Name))

        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusCreated)
        json.NewEncoder(w).Encode(role)

    default:
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
    }
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodDelete {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }

    roleID, err := strconv.ParseInt(r.URL.Query().Get("role_id"), 10, 64)
    if err != nil {
        http.Error(w, "Invalid role ID", http.StatusBadRequest)
        return
    }

    if err := h.db.DeleteRole(roleID); err != nil {
        h.writeStoreError(w, "Failed to delete role", err)
        return
    }
    h.audit("Role deleted", fmt.Sprintf("Role ID: %d", roleID))
    w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
        return
    }
    writeJSON(w, h.logger, llm.Models())
}

// saveImage decodes a base64 data URL and writes it under the uploads
// directory with a random name, returning the stored file name.
func (h *Handler) saveImage(dataURL string) (string, error) {
    mimeType, data, err := parseDataURL(dataURL)
    if err != nil {
        return "", err
    }

    ext, ok := imageExtensions[mimeType]
    if !ok {
        return "", fmt.Errorf("unsupported image type %q", mimeType)
    }

    if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
        return "", err
    }

    name := uuid.NewString() + ext
    if err := os.WriteFile(filepath.Join(h.uploadsDir, name), data, 0o644); err != nil {
        return "", err
    }
    return name, nil
}

var imageExtensions = map[string]string{
    "image/png":  ".png",
    "image/jpeg": ".jpg",
    "image/jpg":  ".jpg",
}

func parseDataURL(s string) (mimeType string, data []byte, err error) {
    rest, ok := strings.CutPrefix(s, "data:")
    if !ok {
        return "", nil, fmt.Errorf("not a data URL")
    }
    meta, payload, ok := strings.Cut(rest, ",")
    if !ok {
        return "", nil, fmt.Errorf("malformed data URL")
    }
    mimeType, enc, ok := strings.Cut(meta, ";")
    if !ok || enc != "base64" {
        return "", nil, fmt.Errorf("expected base64 data URL")
    }

    data, err = base64.StdEncoding.DecodeString(payload)
    if err != nil {
        return "", nil, fmt.Errorf("failed to decode image: %w", err)
    }
    return mimeType, data, nil
}

func (h *Handler) writeStoreError(w http.ResponseWriter, msg string, err error) {
    if errors.Is(err, db.ErrNotFound) {
        http.Error(w, err.Error(), http.StatusNotFound)
        return
    }
    h.logger.Error(msg, zap.Error(err))
    http.Error(w, fmt.Sprintf("%s: %v", msg, err), http.StatusInternalServerError)
}

// audit records an action in the store's log table; failures are logged only.
func (h *Handler) audit(action, details string) {
    if err := h.db.LogAction(action, details); err != nil {
        h.logger.Warn("Failed to write audit log", zap.Error(err), zap.String("action", action))
    }
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
    w.Header().Set("Content-Type", "application/json")
    if err := json.NewEncoder(w).Encode(v); err != nil {
        logger.Error("Failed to encode response", zap.Error(err))
    }
}
