package flowdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const attachYAML = `
context:
  session_id: attach-1
  ue_id: ue-001
  cell_id: cell-7
  plmn:
    mcc: "001"
    mnc: "01"
  variables:
    scenario: initial_attach
steps:
  - step_id: prach
    direction: UL
    layer: PHY
    message_type: PRACH_Preamble
    information_elements:
      preamble_id: 12
  - step_id: rar
    direction: DL
    layer: PHY
    message_type: RAR
    information_elements:
      ta: 31
    dependencies: [prach]
    processing_delay: 5
  - step_id: setup_request
    direction: UL
    layer: RRC
    message_type: RRCSetupRequest
    information_elements:
      rrc_transaction_id: 0
      establishment_cause: mo-Signalling
    expected_response:
      message_type: RRCSetup
      timeout: 1000
      validation_criteria:
        rrc_transaction_id: 0
    dependencies: [rar]
`

func TestParse_YAML(t *testing.T) {
	def, err := Parse([]byte(attachYAML))
	require.NoError(t, err)

	assert.Equal(t, "attach-1", def.Context.SessionID)
	assert.Equal(t, domain.PLMN{MCC: "001", MNC: "01"}, def.Context.PLMN)
	require.Len(t, def.Steps, 3)

	rar := def.Steps[1]
	assert.Equal(t, domain.LayerPHY, rar.Layer)
	assert.Equal(t, domain.DirectionDL, rar.Direction)
	assert.Equal(t, []string{"prach"}, rar.Dependencies)
	assert.Equal(t, 5, rar.ProcessingDelay)

	ta, err := rar.InformationElements.Int("ta")
	require.NoError(t, err)
	assert.Equal(t, 31, ta)

	setup := def.Steps[2]
	require.NotNil(t, setup.ExpectedResponse)
	assert.Equal(t, "RRCSetup", setup.ExpectedResponse.MessageType)
	assert.Equal(t, 1000, setup.ExpectedResponse.Timeout)
	assert.True(t, setup.ExpectedResponse.ValidationCriteria.Has("rrc_transaction_id"))
}

func TestParse_JSON(t *testing.T) {
	def, err := Parse([]byte(`{
		"context": {"ue_id": "ue-9", "plmn": {"mcc": "310", "mnc": "260"}},
		"steps": [
			{"step_id": "reg", "layer": "NAS", "message_type": "RegistrationRequest",
			 "information_elements": {"nas_key_set_identifier": 7}}
		]
	}`))
	require.NoError(t, err)

	assert.Empty(t, def.Context.SessionID)
	assert.Equal(t, "ue-9", def.Context.UEID)
	require.Len(t, def.Steps, 1)

	ksi, err := def.Steps[0].InformationElements.Int("nas_key_set_identifier")
	require.NoError(t, err)
	assert.Equal(t, 7, ksi)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorContains(t, err, "empty")

	_, err = Parse([]byte("context:\n  ue_id: x\n"))
	assert.ErrorContains(t, err, "no steps")

	_, err = Parse([]byte("{not json"))
	assert.ErrorContains(t, err, "JSON")

	_, err = Parse([]byte("steps: [unterminated"))
	assert.ErrorContains(t, err, "YAML")
}

func TestDefinition_FlowContext(t *testing.T) {
	def, err := Parse([]byte(attachYAML))
	require.NoError(t, err)

	fc := def.FlowContext()
	assert.Equal(t, "attach-1", fc.SessionID)
	assert.Equal(t, "ue-001", fc.UEID)
	assert.Equal(t, "cell-7", fc.CellID)
	assert.Equal(t, "IDLE", fc.CurrentState)

	v, ok := fc.Variable("scenario")
	require.True(t, ok)
	assert.Equal(t, "initial_attach", v)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(attachYAML), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, def.Steps, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefinition_MarshalRoundTrip(t *testing.T) {
	def, err := Parse([]byte(attachYAML))
	require.NoError(t, err)

	out, err := def.Marshal()
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, def.Context, again.Context)
	assert.Len(t, again.Steps, len(def.Steps))
	assert.Equal(t, def.Steps[2].ExpectedResponse.MessageType, again.Steps[2].ExpectedResponse.MessageType)
}
