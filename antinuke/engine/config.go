package engine

import (
	"fmt"
	"time"
)

type PunishMode string

const (
	PunishBan  PunishMode = "ban"
	PunishKick PunishMode = "kick"
	// detect and reverse, but leave the actor alone
	PunishNone PunishMode = "none"
)

func ParsePunishMode(s string) (PunishMode, error) {
	switch PunishMode(s) {
	case PunishBan, PunishKick, PunishNone:
		return PunishMode(s), nil
	default:
		return "", fmt.Errorf("invalid punishment mode %q (expected ban, kick, or none)", s)
	}
}

// Audit entries older than this are never used to attribute an action.
const DefaultAuditMaxAge = 5 * time.Second

type Config struct {
	Punishment PunishMode

	// recreate deleted entities from snapshots
	AutoRecovery    bool
	RecoverChannels bool
	RecoverRoles    bool

	AuditMaxAge time.Duration
	// maximum punishments per server per hour; zero disables the quota
	PunishQuotaPerHour int
}

func DefaultConfig() Config {
	return Config{
		Punishment:         PunishBan,
		AutoRecovery:       true,
		RecoverChannels:    true,
		RecoverRoles:       true,
		AuditMaxAge:        DefaultAuditMaxAge,
		PunishQuotaPerHour: 50,
	}
}

func (c Config) recoverChannels() bool {
	return c.AutoRecovery && c.RecoverChannels
}

func (c Config) recoverRoles() bool {
	return c.AutoRecovery && c.RecoverRoles
}
