package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Used when no file is given: one MPR121 at the default address on
// /dev/i2c-1, polled every 100 ms.
// -----------------------------------------------------------------------------

const defaultYAML = `
touch:
  sensors:
    - name: mpr121
      bus: 1
      address: 90
      poll_interval_ms: 100
      sensitivity: standard
`
