package domain

// Role определяет роль пользователя в системе
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller описывает инициатора операции. Передается в сервисы явно,
// сервисы не читают сессию из контекста запроса.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (c Caller) Authenticated() bool {
	return c.ID != ""
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}
