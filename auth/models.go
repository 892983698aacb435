package auth

import "time"

type Role string

const (
	RoleTeller      Role = "teller"
	RoleLoanOfficer Role = "loan_officer"
	RoleAdmin       Role = "admin"
)

// User is a staff member of the institution. It mirrors the users table;
// no JSON annotations so it can back any presentation layer.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	EmployeeID   string
	BranchID     *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains staff registration data supplied by callers.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	EmployeeID string `json:"employee_id"`
	Role       Role   `json:"role"`
}

// LoginRequest contains staff login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
