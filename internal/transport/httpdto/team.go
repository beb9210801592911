package httpdto

// CreateTeamRequest is used for POST /v1/teams
type CreateTeamRequest struct {
	Name string `json:"name" binding:"required"`
}

// MemberRequest adds or removes a member by email
type MemberRequest struct {
	Email string `json:"email" binding:"required"`
}

type TeamDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
}

type MemberDTO struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joinedAt"`
}
