package models

// WiFiNetworkModel is an authorized campus network. The marking pipeline
// reads these by branch; whether a mismatch blocks the marking depends on
// the configured enforcement mode.
type WiFiNetworkModel struct {
	Base
	// Explicit column names: the default naming strategy would migrate
	// these to ss_id/bss_id, breaking every raw ssid query.
	SSID       string `json:"ssid"        gorm:"column:ssid;size:100;index;not null"`
	BSSID      string `json:"bssid"       gorm:"column:bssid;size:50"`
	Location   string `json:"location"    gorm:"size:200;not null"`
	Branch     string `json:"branch"      gorm:"size:50;index;not null"`
	RoomNumber string `json:"room_number" gorm:"size:50"`
	IsActive   bool   `json:"is_active"   gorm:"default:true"`
	CreatedBy  string `json:"created_by"  gorm:"type:char(36);not null"`
}

func (WiFiNetworkModel) TableName() string { return "wifi_networks" }
