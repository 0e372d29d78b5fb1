package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttention(t *testing.T) {
	for in, want := range map[string]Attention{
		"OPEN": AttentionOpen, "abierta": AttentionOpen,
		"Cerrada": AttentionClosed, " urgencia ": AttentionEmergency,
	} {
		got, err := ParseAttention(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAttention("ambulatory")
	assert.Error(t, err)
	assert.Equal(t, "Urgencia", AttentionEmergency.Label())
}

func TestParseContract(t *testing.T) {
	got, err := ParseContract("empresa externa")
	require.NoError(t, err)
	assert.Equal(t, ContractExternal, got)
	assert.Equal(t, "Institucional", ContractInstitutional.Label())

	_, err = ParseContract("")
	assert.Error(t, err)
}

func TestRequiresPremedication(t *testing.T) {
	d := &CTDetail{}
	assert.False(t, d.RequiresPremedication())
	d.RenalFunction = ptr("SIN CREATININA")
	assert.False(t, d.RequiresPremedication())
	d.RenalFunction = ptr("60 ml/min")
	assert.True(t, d.RequiresPremedication())
}

func TestFieldsMergeRejectsOtherModality(t *testing.T) {
	_, err := (&CTFields{}).merge(&XRayDetail{})
	assert.Error(t, err)
	_, err = (&UltrasoundFields{}).merge(&CTDetail{})
	assert.Error(t, err)
}
