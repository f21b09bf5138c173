package models

import "time"

type Chat struct {
    ID        int64     `json:"id"`
    Title     string    `json:"title"`
    RoleID    *int64    `json:"role_id,omitempty"`
    CreatedAt time.Time `json:"created_at"`
}

type Message struct {
    ID        int64     `json:"id"`
    ChatID    int64     `json:"chat_id"`
    Role      string    `json:"role"` // user or assistant
    Content   string    `json:"content"`
    Model     string    `json:"model,omitempty"`
    ImagePath string    `json:"image_path,omitempty"`
    CreatedAt time.Time `json:"created_at"`
}

type Role struct {
    ID        int64     `json:"id"`
    Name      string    `json:"name"`
    Persona   string    `json:"persona"`
    CreatedAt time.Time `json:"created_at"`
}
