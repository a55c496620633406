package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
)

func (s *Server) CreateProject(c *gin.Context) {
	var req projectdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	project, err := s.projectSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": projectView(*project)})
}

func (s *Server) ListProjects(c *gin.Context) {
	projects, err := s.projectSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(projects))
	for _, p := range projects {
		views = append(views, projectView(p))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetProject(c *gin.Context) {
	project, err := s.projectSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": projectView(*project)})
}

func projectView(p projectdomain.Project) gin.H {
	return gin.H{
		"id":         p.ID.String(),
		"name":       p.Name,
		"reference":  p.Reference,
		"budget":     p.Budget.StringFixed(2),
		"active":     p.Active,
		"created_at": p.CreatedAt,
	}
}
