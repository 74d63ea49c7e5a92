package stubidp

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// handleListDevices lists the current user's logged-in devices, most recent first
func (s *Server) handleListDevices(c *gin.Context) {
	current := c.GetString(ctxDeviceID)

	s.state.mu.Lock()
	devices := s.state.devicesOf(c.GetString(ctxUserID))
	records := make([]core.Device, 0, len(devices))
	for _, d := range devices {
		records = append(records, d.record(current))
	}
	s.state.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastLogin.After(*records[j].LastLogin)
	})
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetDevice(c *gin.Context) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	d, ok := s.ownedDevice(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, d.record(c.GetString(ctxDeviceID)))
}

// handleUpdateDevice sets the push token of a device
func (s *Server) handleUpdateDevice(c *gin.Context) {
	var req struct {
		FCMToken *string `json:"fcm_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	d, ok := s.ownedDevice(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	d.FCMToken = *req.FCMToken
	c.JSON(http.StatusOK, d.record(c.GetString(ctxDeviceID)))
}

// handleLogoutDevice ends the session of one device
func (s *Server) handleLogoutDevice(c *gin.Context) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	d, ok := s.ownedDevice(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	d.Active = false
	c.Status(http.StatusNoContent)
}

// handleLogoutAll ends the sessions of every device of the current user
func (s *Server) handleLogoutAll(c *gin.Context) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, d := range s.state.devicesOf(c.GetString(ctxUserID)) {
		d.Active = false
	}
	c.Status(http.StatusNoContent)
}

// ownedDevice returns the active device named in the path if it belongs to the caller
func (s *Server) ownedDevice(c *gin.Context) (*device, bool) {
	d, ok := s.state.devices[c.Param("id")]
	if !ok || !d.Active || d.UserID != c.GetString(ctxUserID) {
		return nil, false
	}
	return d, true
}

func (d *device) record(current string) core.Device {
	lastLogin := d.LastLogin
	return core.Device{
		ID:        d.ID,
		Name:      d.Name,
		UserAgent: d.UserAgent,
		FCMToken:  d.FCMToken,
		LastLogin: &lastLogin,
		Current:   d.ID == current,
	}
}
