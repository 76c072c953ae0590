package emu

import "github.com/blacktop/ilcov/internal/colors"

// trace colors
var colorOp = colors.Bold().SprintfFunc()
var colorImm = colors.BoldMagenta().SprintFunc()
var colorAddr = colors.BoldMagenta().SprintfFunc()
var colorLabel = colors.BoldHiBlue().SprintFunc()
var colorDetails = colors.ItalicFaintWhite().SprintfFunc()
