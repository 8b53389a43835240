package model

import "encoding/json"

// localLabels covers the label references every locale pack is expected to
// carry but older packs sometimes omit. Lang-pack entries win over these.
var localLabels = map[string]string{
	"@CP_ON_EN_W":                       "On",
	"@CP_OFF_EN_W":                      "Off",
	"@CP_ENABLE_EN_W":                   "Enabled",
	"@CP_DISABLE_EN_W":                  "Disabled",
	"@CP_YES_EN_W":                      "Yes",
	"@CP_NO_EN_W":                       "No",
	"@CP_NOT_USED_EN_W":                 "Not used",
	"@CP_CONTINUE_EN_W":                 "Continue",
	"@WM_STATE_POWER_OFF_W":             "Power off",
	"@WM_STATE_INITIAL_W":               "Standby",
	"@WM_STATE_PAUSE_W":                 "Paused",
	"@WM_STATE_RESERVE_W":               "Reserved",
	"@WM_STATE_DETECTING_W":             "Detecting",
	"@WM_STATE_RUNNING_W":               "Running",
	"@WM_STATE_RINSING_W":               "Rinsing",
	"@WM_STATE_SPINNING_W":              "Spinning",
	"@WM_STATE_DRYING_W":                "Drying",
	"@WM_STATE_END_W":                   "Complete",
	"@WM_STATE_ERROR_W":                 "Error",
	"@WM_TERM_NO_SELECT_W":              "Not selected",
	"@RF_TERM_EXPRESS_FREEZE_W":         "Express freeze",
	"@RF_TERM_ICE_PLUS_W":               "Ice plus",
	"@AC_MAIN_OPERATION_ALL_ON_W":       "On",
	"@AC_MAIN_OPERATION_ALL_OFF_W":      "Off",
	"@AC_MAIN_WIND_STRENGTH_AUTO_W":     "Auto",
	"@AC_MAIN_WIND_STRENGTH_LOW_W":      "Low",
	"@AC_MAIN_WIND_STRENGTH_MID_W":      "Medium",
	"@AC_MAIN_WIND_STRENGTH_HIGH_W":     "High",
	"@AC_MAIN_AIRCLEAN_ON_W":            "On",
	"@AC_MAIN_AIRCLEAN_OFF_W":           "Off",
	"@DW_STATE_POWER_OFF_W":             "Power off",
	"@DW_STATE_INITIAL_W":               "Standby",
	"@DW_STATE_RUNNING_W":               "Running",
	"@DW_STATE_END_W":                   "Complete",
	"@OV_STATE_INITIAL_W":               "Standby",
	"@OV_STATE_PREHEATING_W":            "Preheating",
	"@OV_STATE_COOKING_IN_PROGRESS_W":   "Cooking",
	"@OV_STATE_DONE_W":                  "Complete",
	"@OV_STATE_COOLING_W":               "Cooling",
}

// parseLangPack extracts the label table from a language pack document.
// Packs come as {"langPack":{...}} or {"pack":{...}} depending on vintage.
func parseLangPack(data []byte) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var doc struct {
		LangPack map[string]string `json:"langPack"`
		Pack     map[string]string `json:"pack"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	if len(doc.LangPack) > 0 {
		return doc.LangPack
	}
	return doc.Pack
}
