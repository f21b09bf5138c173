package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidmrtz/parley/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a chat or role id does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    persona TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    role_id INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    image_path TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action TEXT NOT NULL,
    details TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// CreateChat inserts a chat, optionally associated with an existing role.
func (db *Database) CreateChat(title string, roleID *int64) (*models.Chat, error) {
	if roleID != nil {
		if _, err := db.GetRole(*roleID); err != nil {
			return nil, err
		}
	}

	query := `
        INSERT INTO chats (title, role_id, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	chat := &models.Chat{Title: title, RoleID: roleID}
	err := db.db.QueryRow(query, title, roleID).Scan(&chat.ID, &chat.CreatedAt)
	return chat, err
}

func (db *Database) GetChat(id int64) (*models.Chat, error) {
	query := `
        SELECT id, title, role_id, created_at
        FROM chats
        WHERE id = ?`

	var chat models.Chat
	err := db.db.QueryRow(query, id).Scan(&chat.ID, &chat.Title, &chat.RoleID, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChats returns all chats, most recent first.
func (db *Database) GetChats() ([]models.Chat, error) {
	query := `
        SELECT id, title, role_id, created_at
        FROM chats
        ORDER BY created_at DESC, id DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return []models.Chat{}, err
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		err := rows.Scan(&chat.ID, &chat.Title, &chat.RoleID, &chat.CreatedAt)
		if err != nil {
			return []models.Chat{}, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (db *Database) SaveMessage(msg *models.Message) error {
	if _, err := db.GetChat(msg.ChatID); err != nil {
		return err
	}

	query := `
        INSERT INTO messages (chat_id, role, content, model, image_path, created_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	return db.db.QueryRow(query, msg.ChatID, msg.Role, msg.Content, msg.Model, msg.ImagePath).
		Scan(&msg.ID, &msg.CreatedAt)
}

// GetMessages returns a chat's messages in creation order.
func (db *Database) GetMessages(chatID int64) ([]models.Message, error) {
	query := `
        SELECT id, chat_id, role, content, model, image_path, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY created_at ASC, id ASC`

	rows, err := db.db.Query(query, chatID)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Model, &msg.ImagePath, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *Database) CreateRole(name, persona string) (*models.Role, error) {
	query := `
        INSERT INTO roles (name, persona, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	role := &models.Role{Name: name, Persona: persona}
	err := db.db.QueryRow(query, name, persona).Scan(&role.ID, &role.CreatedAt)
	return role, err
}

func (db *Database) GetRole(id int64) (*models.Role, error) {
	query := `
        SELECT id, name, persona, created_at
        FROM roles
        WHERE id = ?`

	var role models.Role
	err := db.db.QueryRow(query, id).Scan(&role.ID, &role.Name, &role.Persona, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (db *Database) GetRoles() ([]models.Role, error) {
	query := `
        SELECT id, name, persona, created_at
        FROM roles
        ORDER BY name ASC, id ASC`

	rows, err := db.db.Query(query)
	if err != nil {
		return []models.Role{}, err
	}
	defer rows.Close()

	roles := make([]models.Role, 0)
	for rows.Next() {
		var role models.Role
		err := rows.Scan(&role.ID, &role.Name, &role.Persona, &role.CreatedAt)
		if err != nil {
			return []models.Role{}, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (db *Database) SetChatRole(chatID, roleID int64) error {
	if _, err := db.GetRole(roleID); err != nil {
		return err
	}

	result, err := db.db.Exec("UPDATE chats SET role_id = ? WHERE id = ?", roleID, chatID)
	if err != nil {
		return err
	}
	return chatUpdated(result, chatID)
}

func (db *Database) ClearChatRole(chatID int64) error {
	result, err := db.db.Exec("UPDATE chats SET role_id = NULL WHERE id = ?", chatID)
	if err != nil {
		return err
	}
	return chatUpdated(result, chatID)
}

func chatUpdated(result sql.Result, chatID int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}
	return nil
}

// EffectivePersona returns the persona text of the chat's role, or "" when
// no role is assigned.
func (db *Database) EffectivePersona(chatID int64) (string, error) {
	chat, err := db.GetChat(chatID)
	if err != nil {
		return "", err
	}
	if chat.RoleID == nil {
		return "", nil
	}
	role, err := db.GetRole(*chat.RoleID)
	if err != nil {
		return "", err
	}
	return role.Persona, nil
}

// DeleteRole detaches the role from any chats referencing it, then deletes it.
func (db *Database) DeleteRole(id int64) error {
	if _, err := db.GetRole(id); err != nil {
		return err
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE chats SET role_id = NULL WHERE role_id = ?", id); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM roles WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) DeleteChat(id int64) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM chats WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) UpdateChatTitle(id int64, title string) error {
	result, err := db.db.Exec("UPDATE chats SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return err
	}
	return chatUpdated(result, id)
}

// LogAction appends an entry to the audit log table.
func (db *Database) LogAction(action, details string) error {
	_, err := db.db.Exec(`
        INSERT INTO logs (action, details, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)`, action, details)
	return err
}
