package wifi

import (
	"errors"

	"github.com/Tahursm/attendance-through-qr-code/internal/middleware"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var errDuplicateSSID = errors.New("duplicate ssid")

type CreateNetworkDTO struct {
	SSID       string `json:"ssid"        binding:"required"`
	BSSID      string `json:"bssid"`
	Location   string `json:"location"    binding:"required"`
	Branch     string `json:"branch"      binding:"required"`
	RoomNumber string `json:"room_number"`
}

type UpdateNetworkDTO struct {
	SSID       *string `json:"ssid"`
	BSSID      *string `json:"bssid"`
	Location   *string `json:"location"`
	Branch     *string `json:"branch"`
	RoomNumber *string `json:"room_number"`
	IsActive   *bool   `json:"is_active"`
}

// Service manages the authorized-network registry. The marking pipeline
// only ever reads it.
type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// ListActive returns all active networks.
func (s *Service) ListActive() ([]models.WiFiNetworkModel, error) {
	var networks []models.WiFiNetworkModel
	err := s.db.Where("is_active = ?", true).Order("branch, ssid").Find(&networks).Error
	return networks, err
}

// ListByBranch returns active networks scoped to one branch.
func (s *Service) ListByBranch(branch string) ([]models.WiFiNetworkModel, error) {
	var networks []models.WiFiNetworkModel
	err := s.db.Where("branch = ? AND is_active = ?", branch, true).Order("ssid").Find(&networks).Error
	return networks, err
}

func (s *Service) Create(teacherID string, dto *CreateNetworkDTO) (*models.WiFiNetworkModel, error) {
	var count int64
	if err := s.db.Model(&models.WiFiNetworkModel{}).Where("ssid = ?", dto.SSID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errDuplicateSSID
	}

	n := models.WiFiNetworkModel{
		SSID:       dto.SSID,
		BSSID:      dto.BSSID,
		Location:   dto.Location,
		Branch:     dto.Branch,
		RoomNumber: dto.RoomNumber,
		IsActive:   true,
		CreatedBy:  teacherID,
	}
	return &n, s.db.Create(&n).Error
}

func (s *Service) Update(id string, dto *UpdateNetworkDTO) (*models.WiFiNetworkModel, error) {
	var n models.WiFiNetworkModel
	if err := s.db.First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	if dto.SSID != nil {
		updates["ssid"] = *dto.SSID
	}
	if dto.BSSID != nil {
		updates["bssid"] = *dto.BSSID
	}
	if dto.Location != nil {
		updates["location"] = *dto.Location
	}
	if dto.Branch != nil {
		updates["branch"] = *dto.Branch
	}
	if dto.RoomNumber != nil {
		updates["room_number"] = *dto.RoomNumber
	}
	if dto.IsActive != nil {
		updates["is_active"] = *dto.IsActive
	}
	return &n, s.db.Model(&n).Updates(updates).Error
}

// Delete deactivates a network rather than removing the row, so audit
// history keeps pointing at something.
func (s *Service) Delete(id string) error {
	return s.db.Model(&models.WiFiNetworkModel{}).Where("id = ?", id).Update("is_active", false).Error
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, teacherMW gin.HandlerFunc) {
	g := rg.Group("/teacher/wifi-networks", teacherMW)

	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/branch/:branch", h.listByBranch)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

// GET /teacher/wifi-networks
func (h *Handler) list(c *gin.Context) {
	networks, err := h.svc.ListActive()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, networks)
}

// GET /teacher/wifi-networks/branch/:branch
func (h *Handler) listByBranch(c *gin.Context) {
	networks, err := h.svc.ListByBranch(c.Param("branch"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, networks)
}

// POST /teacher/wifi-networks
func (h *Handler) create(c *gin.Context) {
	var dto CreateNetworkDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	n, err := h.svc.Create(middleware.CurrentUserID(c), &dto)
	if err != nil {
		if errors.Is(err, errDuplicateSSID) {
			response.Conflict(c, "a network with this ssid already exists")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, n)
}

// PUT /teacher/wifi-networks/:id
func (h *Handler) update(c *gin.Context) {
	var dto UpdateNetworkDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	n, err := h.svc.Update(c.Param("id"), &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if n == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, n)
}

// DELETE /teacher/wifi-networks/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Param("id")); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
