package variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	LOG_LEVEL_DEFAULT = "debug"
	LOG_LEVEL_NAME    = "LOG_LEVEL"

	ROOM_CAPACITY_DEFAULT = "5"
	ROOM_CAPACITY_NAME    = "ROOM_CAPACITY"

	AUTO_START_WINDOW_DEFAULT = "5m"
	AUTO_START_WINDOW_NAME    = "AUTO_START_WINDOW"

	// Negative grace disables the server-side turn watchdog.
	TURN_GRACE_DEFAULT = "15s"
	TURN_GRACE_NAME    = "TURN_GRACE"

	ROOM_TYPES_FILE_DEFAULT = ""
	ROOM_TYPES_FILE_NAME    = "ROOM_TYPES_FILE"

	HISTORY_DB_PATH_DEFAULT = ""
	HISTORY_DB_PATH_NAME    = "HISTORY_DB_PATH"

	REDIS_ADDR_DEFAULT = ""
	REDIS_ADDR_NAME    = "REDIS_ADDR"

	CORS_ALLOWED_ORIGINS_DEFAULT = "*"
	CORS_ALLOWED_ORIGINS_NAME    = "CORS_ALLOWED_ORIGINS"

	WS_MESSAGES_PER_SECOND_DEFAULT = "20"
	WS_MESSAGES_PER_SECOND_NAME    = "WS_MESSAGES_PER_SECOND"

	WS_MESSAGE_BURST_DEFAULT = "40"
	WS_MESSAGE_BURST_NAME    = "WS_MESSAGE_BURST"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(value))
}

func ParseDuration(value string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(value))
}

// ParseCSV splits a comma separated list, dropping blank entries.
func ParseCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
