package handler

import (
	"net/http"
	"time"

	"volleystat/internal/domain/team"
	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TeamHandler struct {
	service *services.TeamService
}

func NewTeamHandler(service *services.TeamService) *TeamHandler {
	return &TeamHandler{service: service}
}

func (h *TeamHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	t, err := h.service.CreateTeam(c.Request.Context(), userID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toTeamDTO(t, team.RoleCoach)))
}

func (h *TeamHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	teams, err := h.service.ListUserTeams(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]httpdto.TeamDTO, 0, len(teams))
	for _, t := range teams {
		out = append(out, toTeamDTO(t.Team, t.Role))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func (h *TeamHandler) ListMembers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	teamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid team id")
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), userID, teamID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]httpdto.MemberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, httpdto.MemberDTO{
			UserID:      m.UserID.String(),
			Email:       m.Email,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			JoinedAt:    m.JoinedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func (h *TeamHandler) AddMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	teamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid team id")
		return
	}
	var req httpdto.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	m, err := h.service.AddMember(c.Request.Context(), userID, teamID, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(m))
}

func (h *TeamHandler) RemoveMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	teamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid team id")
		return
	}
	var req httpdto.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), userID, teamID, req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.OKResponse{OK: true}))
}

func toTeamDTO(t team.Team, role string) httpdto.TeamDTO {
	return httpdto.TeamDTO{
		ID:        t.ID.String(),
		Name:      t.Name,
		Role:      role,
		CreatedBy: t.CreatedBy.String(),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}
