package session

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/meigma/parcel/core"
)

// SystemInfo describes the client environment. It is sent as JSON in the
// system header and summarized in the User-Agent.
type SystemInfo struct {
	AppName        string `json:"app_name"`
	AppVersion     string `json:"app_version"`
	ParcelVersion  string `json:"parcel_version"`
	Runtime        string `json:"runtime"`
	RuntimeVersion string `json:"runtime_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Platform       string `json:"platform,omitempty"`
	Bits           int    `json:"bits"`
}

// CollectSystemInfo gathers the host description. Host lookups that fail
// fall back to what the Go runtime reports.
func CollectSystemInfo(ctx context.Context, appName, appVersion string) SystemInfo {
	info := SystemInfo{
		AppName:        appName,
		AppVersion:     appVersion,
		ParcelVersion:  core.Version,
		Runtime:        "go",
		RuntimeVersion: strings.TrimPrefix(runtime.Version(), "go"),
		OS:             runtime.GOOS,
		Bits:           strconv.IntSize,
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		if h.OS != "" {
			info.OS = h.OS
		}
		info.OSVersion = h.KernelVersion
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	}
	return info
}

// UserAgent renders "Parcel/<v> <app>/<v> go/<v> <os>/<kernel> 64bits/<bool>".
// The application part is omitted without an application name.
func (s SystemInfo) UserAgent() string {
	parts := []string{"Parcel/" + s.ParcelVersion}
	if s.AppName != "" {
		parts = append(parts, s.AppName+"/"+s.AppVersion)
	}
	parts = append(parts,
		s.Runtime+"/"+s.RuntimeVersion,
		s.OS+"/"+s.OSVersion,
		fmt.Sprintf("64bits/%t", s.Bits == 64))
	return strings.Join(parts, " ")
}
