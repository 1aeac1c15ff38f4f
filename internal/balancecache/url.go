package balancecache

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultPort = "6379"

type connInfo struct {
	addr     string
	username string
	password string
	selectDB int
	useTLS   bool
}

// parseURL 은 redis://, rediss:// URL 또는 host:port 주소를 해석한다.
func parseURL(raw string) (connInfo, error) {
	if strings.TrimSpace(raw) == "" {
		return connInfo{}, errors.New("balance cache url is empty")
	}
	if !strings.Contains(raw, "://") {
		return parseAddr(raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return connInfo{}, fmt.Errorf("parse url: %w", err)
	}
	useTLS := false
	switch strings.ToLower(parsed.Scheme) {
	case "redis", "valkey":
	case "rediss", "valkeys":
		useTLS = true
	default:
		return connInfo{}, fmt.Errorf("unsupported balance cache scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return connInfo{}, errors.New("balance cache host missing")
	}
	port := parsed.Port()
	if port == "" {
		port = defaultPort
	}

	selectDB := 0
	if path := strings.TrimPrefix(parsed.Path, "/"); strings.TrimSpace(path) != "" {
		db, err := strconv.Atoi(path)
		if err != nil || db < 0 {
			return connInfo{}, fmt.Errorf("invalid balance cache db: %q", path)
		}
		selectDB = db
	}

	info := connInfo{
		addr:     net.JoinHostPort(host, port),
		selectDB: selectDB,
		useTLS:   useTLS,
	}
	if parsed.User != nil {
		info.username = parsed.User.Username()
		info.password, _ = parsed.User.Password()
	}
	return info, nil
}

func parseAddr(addr string) (connInfo, error) {
	trimmed := strings.TrimSpace(addr)
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		var addrErr *net.AddrError
		if !errors.As(err, &addrErr) || addrErr.Err != "missing port in address" {
			return connInfo{}, fmt.Errorf("invalid balance cache address: %w", err)
		}
		host = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
		port = defaultPort
	}
	if strings.TrimSpace(host) == "" {
		return connInfo{}, errors.New("balance cache host missing")
	}
	return connInfo{addr: net.JoinHostPort(host, port)}, nil
}
