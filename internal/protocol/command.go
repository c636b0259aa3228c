package protocol

import "fmt"

// Command is a protocol operation code, carried as a 32-bit big-endian field.
type Command uint32

// Command codes. BIND, RENAME_GW and RENAME_DEVICE share codes 3 to 5 with the
// 3.4 session key negotiation messages; reverse lookups resolve to the latter.
const (
	CmdUDP                   Command = 0
	CmdAPConfig              Command = 1
	CmdActive                Command = 2
	CmdBind                  Command = 3
	CmdSessKeyNegStart       Command = 3
	CmdRenameGW              Command = 4
	CmdSessKeyNegResp        Command = 4
	CmdRenameDevice          Command = 5
	CmdSessKeyNegFinish      Command = 5
	CmdUnbind                Command = 6
	CmdControl               Command = 7
	CmdStatus                Command = 8
	CmdHeartBeat             Command = 9
	CmdDPQuery               Command = 10
	CmdQueryWifi             Command = 11
	CmdTokenBind             Command = 12
	CmdControlNew            Command = 13
	CmdEnableWifi            Command = 14
	CmdDPQueryNew            Command = 16
	CmdSceneExecute          Command = 17
	CmdDPRefresh             Command = 18
	CmdUDPNew                Command = 19
	CmdAPConfigNew           Command = 20
	CmdBroadcastLPV34        Command = 35
	CmdLANExtStream          Command = 40
	CmdLANGWActive           Command = 240
	CmdLANSubDevRequest      Command = 241
	CmdLANDeleteSubDev       Command = 242
	CmdLANReportSubDev       Command = 243
	CmdLANScene              Command = 244
	CmdLANPublishCloudConfig Command = 245
	CmdLANPublishAppConfig   Command = 246
	CmdLANExportAppConfig    Command = 247
	CmdLANPublishScenePanel  Command = 248
	CmdLANRemoveGW           Command = 249
	CmdLANCheckGWUpdate      Command = 250
	CmdLANGWUpdate           Command = 251
	CmdLANSetGWChannel       Command = 252
)

// commandNames is the reverse table. It must list every code the codec can
// receive; anything missing is rejected as an unknown command.
var commandNames = map[Command]string{
	CmdUDP:                   "UDP",
	CmdAPConfig:              "AP_CONFIG",
	CmdActive:                "ACTIVE",
	CmdSessKeyNegStart:       "SESS_KEY_NEG_START",
	CmdSessKeyNegResp:        "SESS_KEY_NEG_RES",
	CmdSessKeyNegFinish:      "SESS_KEY_NEG_FINISH",
	CmdUnbind:                "UNBIND",
	CmdControl:               "CONTROL",
	CmdStatus:                "STATUS",
	CmdHeartBeat:             "HEART_BEAT",
	CmdDPQuery:               "DP_QUERY",
	CmdQueryWifi:             "QUERY_WIFI",
	CmdTokenBind:             "TOKEN_BIND",
	CmdControlNew:            "CONTROL_NEW",
	CmdEnableWifi:            "ENABLE_WIFI",
	CmdDPQueryNew:            "DP_QUERY_NEW",
	CmdSceneExecute:          "SCENE_EXECUTE",
	CmdDPRefresh:             "DP_REFRESH",
	CmdUDPNew:                "UDP_NEW",
	CmdAPConfigNew:           "AP_CONFIG_NEW",
	CmdBroadcastLPV34:        "BOARDCAST_LPV34",
	CmdLANExtStream:          "LAN_EXT_STREAM",
	CmdLANGWActive:           "LAN_GW_ACTIVE",
	CmdLANSubDevRequest:      "LAN_SUB_DEV_REQUEST",
	CmdLANDeleteSubDev:       "LAN_DELETE_SUB_DEV",
	CmdLANReportSubDev:       "LAN_REPORT_SUB_DEV",
	CmdLANScene:              "LAN_SCENE",
	CmdLANPublishCloudConfig: "LAN_PUBLISH_CLOUD_CONFIG",
	CmdLANPublishAppConfig:   "LAN_PUBLISH_APP_CONFIG",
	CmdLANExportAppConfig:    "LAN_EXPORT_APP_CONFIG",
	CmdLANPublishScenePanel:  "LAN_PUBLISH_SCENE_PANEL",
	CmdLANRemoveGW:           "LAN_REMOVE_GW",
	CmdLANCheckGWUpdate:      "LAN_CHECK_GW_UPDATE",
	CmdLANGWUpdate:           "LAN_GW_UPDATE",
	CmdLANSetGWChannel:       "LAN_SET_GW_CHANNEL",
}

// commandAliases are accepted by ParseCommand but never produced by String.
var commandAliases = map[string]Command{
	"BIND":          CmdBind,
	"RENAME_GW":     CmdRenameGW,
	"RENAME_DEVICE": CmdRenameDevice,
}

// LookupCommand maps a wire code to a known command.
func LookupCommand(code uint32) (Command, bool) {
	c := Command(code)
	_, ok := commandNames[c]
	return c, ok
}

// ParseCommand maps a protocol name such as "DP_QUERY" to its command.
func ParseCommand(name string) (Command, error) {
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	if c, ok := commandAliases[name]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// String returns the protocol name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%X)", uint32(c))
}

// IsDiscovery reports whether c is a broadcast advertisement command. These
// frames always carry a CRC32 trailer regardless of protocol version.
func (c Command) IsDiscovery() bool {
	return c == CmdUDP || c == CmdUDPNew || c == CmdBroadcastLPV34
}
