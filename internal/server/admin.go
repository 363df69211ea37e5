package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
)

const (
	targetUser = "user"
	targetRole = "role"
)

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	chain := s.chains.Admin

	admin.GET("/users/:id/permissions", chain.Handle(auditdomain.ActionAdminRequest, s.GetEffectivePermissions))
	admin.POST("/users", chain.Handle(auditdomain.ActionAdminRequest, s.CreateUser))
	admin.POST("/users/:id/deactivate", chain.Handle(auditdomain.ActionUserDeactivated, s.DeactivateUser))
	admin.POST("/users/:id/roles", chain.Handle(auditdomain.ActionRoleAssigned, s.AssignRole))
	admin.DELETE("/users/:id/roles/:role", chain.Handle(auditdomain.ActionRoleUnassigned, s.UnassignRole))

	admin.POST("/roles", chain.Handle(auditdomain.ActionAdminRequest, s.CreateRole))
	admin.POST("/roles/:role/permissions", chain.Handle(auditdomain.ActionPermissionGranted, s.GrantPermission))
	admin.DELETE("/roles/:role/permissions/:permission", chain.Handle(auditdomain.ActionPermissionRemoved, s.RemovePermission))

	admin.GET("/audit-logs", chain.Handle(auditdomain.ActionAdminRequest, s.ListAuditLogs))
}

func (s *Server) GetEffectivePermissions(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	pipeline.SetTarget(c, targetUser, userID.String())

	perms, err := s.rbac.EffectivePermissions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

type createUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type userResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       *string `json:"email,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Active      bool    `json:"active"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequestError())
		return
	}

	user, err := s.authsvc.CreateUser(c.Request.Context(), authdomain.CreateUserRequest{
		Username:    strings.TrimSpace(req.Username),
		Email:       strings.TrimSpace(req.Email),
		Password:    req.Password,
		DisplayName: strings.TrimSpace(req.DisplayName),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	pipeline.SetTarget(c, targetUser, user.ID.String())

	c.JSON(http.StatusCreated, userResponse{
		ID:          user.ID.String(),
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Active:      user.Active,
	})
}

func (s *Server) DeactivateUser(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	pipeline.SetTarget(c, targetUser, userID.String())

	if err := s.rbac.DeactivateUser(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) AssignRole(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Role) == "" {
		respondError(c, newValidationError("role", "required", "role is required"))
		return
	}
	pipeline.SetTarget(c, targetUser, userID.String())
	pipeline.AddDetail(c, "role", strings.TrimSpace(req.Role))

	if err := s.rbac.AssignRole(c.Request.Context(), userID, req.Role); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UnassignRole(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	role := c.Param("role")
	pipeline.SetTarget(c, targetUser, userID.String())
	pipeline.AddDetail(c, "role", role)

	if err := s.rbac.UnassignRole(c.Request.Context(), userID, role); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) CreateRole(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequestError())
		return
	}

	role, err := s.rbac.CreateRole(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	pipeline.SetTarget(c, targetRole, role.Name)

	c.JSON(http.StatusCreated, roleResponse{
		ID:          role.ID.String(),
		Name:        role.Name,
		Description: role.Description,
	})
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

func (s *Server) GrantPermission(c *gin.Context) {
	role := c.Param("role")
	var req grantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Permission) == "" {
		respondError(c, newValidationError("permission", "required", "permission is required"))
		return
	}
	pipeline.SetTarget(c, targetRole, role)
	pipeline.AddDetail(c, "permission", strings.TrimSpace(req.Permission))

	if err := s.rbac.GrantPermission(c.Request.Context(), role, req.Permission); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RemovePermission(c *gin.Context) {
	role := c.Param("role")
	permission := c.Param("permission")
	pipeline.SetTarget(c, targetRole, role)
	pipeline.AddDetail(c, "permission", permission)

	if err := s.rbac.RemovePermission(c.Request.Context(), role, permission); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
